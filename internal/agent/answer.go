// Package agent implements the Answer Agent (C7): grounded prompt assembly
// from a session's cached CV/JD/dialogue state, brief/full response modes,
// and token-by-token streaming through the caller's callback.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/interviewd/interviewd/internal/config"
	"github.com/interviewd/interviewd/internal/llm"
	"github.com/interviewd/interviewd/internal/session"
	"github.com/interviewd/interviewd/pkg/types"
)

// Mode selects the answer agent's response length and instruction.
type Mode string

const (
	ModeBrief Mode = "brief"
	ModeFull  Mode = "full"
)

// TokenCallback receives one streamed answer token (or chunk of tokens) as
// it arrives. A non-nil error aborts generation without appending to
// session history, per the cancellation contract.
type TokenCallback func(delta string) error

// Retriever looks up optional supplementary context for a question —
// e.g. an embedding-backed or keyword-backed external knowledge lookup.
// It is a capability interface: [NoopRetriever] satisfies it with no
// result, and the agent's prompt assembly works identically either way.
type Retriever interface {
	Retrieve(ctx context.Context, question string) (context string, err error)
}

// NoopRetriever is the default [Retriever]: no external knowledge base is
// configured, so every lookup returns no context.
type NoopRetriever struct{}

func (NoopRetriever) Retrieve(context.Context, string) (string, error) { return "", nil }

// Agent assembles prompts from session state and drives the streaming
// chat-completion call, relaying tokens to the caller and recording the
// completed answer into session history.
type Agent struct {
	llm       *llm.Client
	retriever Retriever
	cfg       config.AgentConfig
}

// New returns an [Agent] backed by llmClient. retriever may be nil, in
// which case [NoopRetriever] is used.
func New(llmClient *llm.Client, retriever Retriever, cfg config.AgentConfig) *Agent {
	if retriever == nil {
		retriever = NoopRetriever{}
	}
	return &Agent{llm: llmClient, retriever: retriever, cfg: cfg}
}

// Answer assembles a grounded prompt from sess's cached CV/JD/history,
// calls the LLM client with streaming enabled, and relays each token to
// onToken. The completed answer is appended to sess's history as an
// assistant entry. On empty output, upstream failure, or a callback error,
// the accumulated partial text is returned without being appended.
func (a *Agent) Answer(ctx context.Context, sess *session.Session, question string, mode Mode, onToken TokenCallback) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", nil
	}

	var cancel context.CancelFunc
	if a.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	extContext, err := a.retriever.Retrieve(ctx, question)
	if err != nil {
		extContext = ""
	}

	prompt := a.buildPrompt(sess, question, mode, extContext)
	messages := []types.Message{{Role: "user", Content: prompt}}

	var full strings.Builder
	var callbackErr error

	_, streamErr := a.llm.Stream(ctx, messages, func(delta string) {
		if callbackErr != nil {
			return
		}
		full.WriteString(delta)
		if onToken != nil {
			if err := onToken(delta); err != nil {
				callbackErr = err
				cancel()
			}
		}
	})

	text := full.String()
	if callbackErr != nil {
		return text, callbackErr
	}
	if streamErr != nil {
		return text, streamErr
	}
	if text == "" {
		return "", nil
	}

	sess.AddHistory(text, "assistant", nil)
	return text, nil
}

// buildPrompt assembles the instruction header, CV/JD/dialogue blocks, the
// question, and a mode-specific closing instruction, per spec §4.4.
func (a *Agent) buildPrompt(sess *session.Session, question string, mode Mode, extContext string) string {
	cvText, jdText := sess.Context()
	cvBlock := truncate(orNone(cvText), a.cfg.CVMaxChars)
	jdBlock := truncate(orNone(jdText), a.cfg.JDMaxChars)
	dialogueBlock := a.dialogueBlock(sess)
	extBlock := orNone(strings.TrimSpace(extContext))

	var b strings.Builder
	b.WriteString("You are a professional interview assistant, helping a candidate answer questions live.\n\n")

	fmt.Fprintf(&b, "[Resume]\n%s\n\n", cvBlock)
	fmt.Fprintf(&b, "[Job Description]\n%s\n\n", jdBlock)
	fmt.Fprintf(&b, "[External knowledge]\n%s\n\n", extBlock)
	fmt.Fprintf(&b, "[Recent dialogue]\n%s\n\n", dialogueBlock)
	fmt.Fprintf(&b, "[Question]\n%s\n\n", question)

	if mode == ModeBrief {
		b.WriteString("Based on the above, answer the question in one sentence, in the first person.")
	} else {
		b.WriteString("Based on the above, produce a detailed, well-structured answer. It should:\n" +
			"- sound natural and confident, in the first person\n" +
			"- draw on relevant experience from the resume\n" +
			"- align with the job description's requirements\n" +
			"- run 6-12 sentences\n\n" +
			"If some information is missing, state your assumptions briefly.")
	}
	return b.String()
}

// dialogueBlock renders the session's recent history as "speaker: text"
// lines, windowed to the configured recency limit.
func (a *Agent) dialogueBlock(sess *session.Session) string {
	entries := sess.History(a.cfg.HistoryWindow)
	if len(entries) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", e.Speaker, e.Content))
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// truncate cuts s to at most maxChars runes, leaving "(none)" untouched.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 || s == "(none)" {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}
