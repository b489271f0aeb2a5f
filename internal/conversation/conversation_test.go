package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/llm"
	"dialoque/server/internal/logger"
)

func oid(b byte) primitive.ObjectID {
	var id primitive.ObjectID
	id[len(id)-1] = b
	return id
}

func historyOf(n int) []domain.Message {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		role := domain.MessageRoleStudent
		if i%2 == 1 {
			role = domain.MessageRoleAssistant
		}
		out = append(out, domain.Message{ID: oid(byte(i + 1)), Role: role, Content: "turn", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	return out
}

func TestBuildMessageCount(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		for _, incLect := range []bool{false, true} {
			for _, incStud := range []bool{false, true} {
				for _, haveSummaries := range []bool{false, true} {
					in := BuildInput{
						History:                historyOf(n),
						UserMessage:            "  What next?  ",
						IncludeLecturerSummary: incLect,
						IncludeStudentSummary:  incStud,
					}
					if haveSummaries {
						in.LecturerSummary = "brief"
						in.StudentSummary = "analysis"
					}
					msgs := Build(in)

					want := 1 + n + 1
					if haveSummaries && incLect {
						want++
					}
					if haveSummaries && incStud {
						want++
					}
					if len(msgs) != want {
						t.Fatalf("n=%d lect=%v stud=%v sum=%v: got %d messages, want %d", n, incLect, incStud, haveSummaries, len(msgs), want)
					}
					last := msgs[len(msgs)-1]
					if last.Role != llm.RoleUser || last.Content != "What next?" {
						t.Fatalf("unexpected trailing message: %+v", last)
					}
					if msgs[0].Role != llm.RoleSystem || msgs[0].Content != persona {
						t.Fatalf("first message must be the persona")
					}
				}
			}
		}
	}
}

func TestBuildSummaryOrder(t *testing.T) {
	msgs := Build(BuildInput{
		LecturerSummary:        " lecturer text ",
		StudentSummary:         "student text",
		UserMessage:            "hi",
		IncludeLecturerSummary: true,
		IncludeStudentSummary:  true,
	})
	if msgs[1].Content != "Lecturer summary for this assignment:\nlecturer text" {
		t.Fatalf("unexpected lecturer summary: %q", msgs[1].Content)
	}
	if msgs[2].Content != "Student's submitted summary:\nstudent text" {
		t.Fatalf("unexpected student summary: %q", msgs[2].Content)
	}
}

func TestBuildHistoryOrderingIsStable(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	local := ts.In(time.FixedZone("CET", 3600))
	history := []domain.Message{
		{ID: oid(3), Role: domain.MessageRoleStudent, Content: "c", CreatedAt: ts},
		{ID: oid(1), Role: domain.MessageRoleStudent, Content: "a", CreatedAt: local},
		{ID: oid(9), Role: domain.MessageRoleAssistant, Content: "first"},
		{ID: oid(2), Role: domain.MessageRoleAssistant, Content: "b", CreatedAt: ts},
	}
	msgs := Build(BuildInput{History: history, UserMessage: "next"})

	var got []string
	for _, m := range msgs[1 : len(msgs)-1] {
		got = append(got, m.Content)
	}
	if strings.Join(got, ",") != "first,a,b,c" {
		t.Fatalf("unexpected order: %v", got)
	}
	if history[0].Content != "c" {
		t.Fatalf("Build must not reorder the caller's slice")
	}
}

func TestBuildMaxHistory(t *testing.T) {
	msgs := Build(BuildInput{History: historyOf(6), UserMessage: "x", MaxHistory: 2})
	if len(msgs) != 4 {
		t.Fatalf("expected persona + 2 history + user, got %d", len(msgs))
	}
}

func TestBuildBlankUserMessageEmitsNoTurn(t *testing.T) {
	msgs := Build(BuildInput{UserMessage: " \n "})
	if len(msgs) != 1 {
		t.Fatalf("expected only the persona, got %+v", msgs)
	}
}

func TestLecturerTurnRoundTrip(t *testing.T) {
	p := domain.AssignmentPrompt{ID: oid(7), Title: "Stakeholders", PromptText: "List the stakeholders affected.", ExampleResponse: "Commuters, city council."}
	withExample := LecturerTurn(*domain.NewLecturerMessage(oid(1), p))
	if !strings.HasPrefix(withExample, "Lecturer prompt (Stakeholders):\n") {
		t.Fatalf("unexpected header: %q", withExample)
	}
	idx := strings.Index(withExample, p.PromptText)
	label := strings.Index(withExample, "Example assistant reply previously shared by the lecturer:")
	if idx < 0 || label < idx || !strings.HasSuffix(withExample, p.ExampleResponse) {
		t.Fatalf("prompt text or example missing/out of order: %q", withExample)
	}

	p.Title, p.ExampleResponse = "", ""
	plain := LecturerTurn(*domain.NewLecturerMessage(oid(1), p))
	if plain != "Lecturer prompt:\n"+p.PromptText {
		t.Fatalf("unexpected plain turn: %q", plain)
	}

	msgs := Build(BuildInput{History: []domain.Message{*domain.NewLecturerMessage(oid(1), p)}, UserMessage: "ok"})
	if msgs[1].Role != llm.RoleSystem {
		t.Fatalf("lecturer turns must be system messages, got %s", msgs[1].Role)
	}
}

type fakeProvider struct {
	reqs []llm.Request
	err  error
}

func (f *fakeProvider) Generate(_ context.Context, req llm.Request) (llm.Generation, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return llm.Generation{}, f.err
	}
	total := 9
	return llm.Generation{Text: "reply", Usage: llm.Usage{TotalTokens: &total}}, nil
}

func TestSendValidatesBeforeCalling(t *testing.T) {
	f := &fakeProvider{}
	c := NewClient(f, logger.NewNop())
	ctx := context.Background()

	if _, err := c.Send(ctx, []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "davinci"); !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}
	if _, err := c.Send(ctx, []llm.Message{{Role: llm.RoleSystem, Content: persona}}, "gpt-5"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := c.Respond(ctx, RespondInput{UserMessage: "   ", Model: "gpt-5"}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage from Respond, got %v", err)
	}
	if len(f.reqs) != 0 {
		t.Fatalf("provider must not be called, got %d calls", len(f.reqs))
	}
}

func TestRespondUsesSummariesAndNormalizesUsage(t *testing.T) {
	f := &fakeProvider{}
	c := NewClient(f, logger.NewNop())
	a := &domain.Assignment{Documents: []domain.AssignmentDocument{{Slot: 1, Summary: "brief summary"}}}
	s := &domain.StudentSubmission{Summary: "my summary"}

	res, err := c.Respond(context.Background(), RespondInput{
		Assignment: a, Submission: s, UserMessage: "Help", Model: "gpt-4o-mini",
		IncludeLecturerSummary: true, IncludeStudentSummary: true,
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if res.Text != "reply" || res.Model != "gpt-4o-mini" || res.TotalTokens == nil || *res.TotalTokens != 9 || res.PromptTokens != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	req := f.reqs[0]
	if len(req.Messages) != 4 || req.MaxTokens != 600 || req.Temperature == nil || *req.Temperature != 0.4 {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestSendWrapsProviderFailureOnce(t *testing.T) {
	f := &fakeProvider{err: llm.ErrEmptyOutput}
	c := NewClient(f, logger.NewNop())
	_, err := c.Send(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, "gpt-5")
	var cerr *ConversationError
	if !errors.As(err, &cerr) || !errors.Is(err, llm.ErrEmptyOutput) {
		t.Fatalf("expected ConversationError wrapping ErrEmptyOutput, got %v", err)
	}
	if len(f.reqs) != 1 {
		t.Fatalf("expected a single provider call, got %d", len(f.reqs))
	}
}
