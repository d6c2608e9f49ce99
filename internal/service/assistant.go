package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/relaypoint/messaging-platform/internal/attachment"
	"github.com/relaypoint/messaging-platform/internal/llm"
	"github.com/relaypoint/messaging-platform/internal/model"
	"github.com/relaypoint/messaging-platform/internal/screen"
	"github.com/relaypoint/messaging-platform/internal/store"
	"github.com/relaypoint/messaging-platform/pkg/logger"
	"github.com/relaypoint/messaging-platform/pkg/metrics"
)

const (
	assistantHistoryLimit = 50
	documentContextLimit  = 6000
)

// DocumentExtractor pulls text out of an uploaded document for assistant
// context. Nil means no extraction is available and file sends degrade to a
// generic acknowledgement.
type DocumentExtractor interface {
	Extract(r io.Reader) (string, error)
}

// Assistant handles the assistant thread: messages with no receiver are
// answered synchronously by the configured LLM. This path is fully
// decoupled from peer delivery; a slow completion never delays a relay.
type Assistant struct {
	store       *store.Store
	llm         llm.Client
	attachments *attachment.Store
	extractor   DocumentExtractor
	screener    screen.Screener
	log         *logger.Logger
}

// NewAssistant creates the assistant service. llmClient and extractor may
// be nil; replies then degrade gracefully.
func NewAssistant(st *store.Store, llmClient llm.Client, attachments *attachment.Store,
	extractor DocumentExtractor, screener screen.Screener, log *logger.Logger) *Assistant {
	return &Assistant{
		store:       st,
		llm:         llmClient,
		attachments: attachments,
		extractor:   extractor,
		screener:    screener,
		log:         log,
	}
}

// Respond persists an assistant-directed message, produces a reply and
// persists it. Both rows are created read: the assistant reads
// synchronously, so this thread never participates in receipt propagation.
// LLM failures degrade to a persisted apologetic reply; the user's message
// is never lost.
func (a *Assistant) Respond(ctx context.Context, userID string, req *model.SendMessageRequest) (*model.Message, *model.Message, error) {
	now := time.Now().UTC()
	kind := req.Kind
	if kind == "" {
		kind = model.KindText
	}

	userMsg := &model.Message{
		SenderID:      userID,
		Role:          model.RoleUser,
		Content:       req.Content,
		Kind:          kind,
		AttachmentRef: req.AttachmentRef,
		ReplyToID:     req.ReplyToID,
		IsFlagged:     a.screener.Flag(req.Content),
		IsRead:        true,
		ReadAt:        &now,
	}
	userMsg, err := a.store.CreateMessage(ctx, userMsg)
	if err != nil {
		return nil, nil, fmt.Errorf("persist user message: %w", err)
	}
	userMsg.CorrelationID = req.CorrelationID
	metrics.RecordMessage(string(model.RoleUser), string(kind))

	content := a.completion(ctx, userID, userMsg)

	readAt := time.Now().UTC()
	reply := &model.Message{
		SenderID: userID,
		Role:     model.RoleAssistant,
		Content:  content,
		Kind:     model.KindText,
		IsRead:   true,
		ReadAt:   &readAt,
	}
	reply, err = a.store.CreateMessage(ctx, reply)
	if err != nil {
		return userMsg, nil, fmt.Errorf("persist assistant reply: %w", err)
	}
	metrics.RecordMessage(string(model.RoleAssistant), string(model.KindText))

	return userMsg, reply, nil
}

func (a *Assistant) completion(ctx context.Context, userID string, userMsg *model.Message) string {
	if a.llm == nil {
		if userMsg.Kind != model.KindText {
			return "File uploaded successfully."
		}
		return "The assistant is currently unavailable."
	}

	messages, err := a.buildPrompt(ctx, userID, userMsg)
	if err != nil {
		a.log.Warn("attachment could not be processed for assistant",
			"message_id", userMsg.ID, "error", err)
		return "I received your file."
	}

	start := time.Now()
	resp, err := a.llm.Complete(ctx, &llm.CompletionRequest{Messages: messages})
	if err != nil {
		metrics.AssistantDuration.WithLabelValues(a.llm.Name(), "error").
			Observe(time.Since(start).Seconds())
		a.log.Error("assistant completion failed", "user_id", userID, "error", err)
		return "Sorry, I encountered an error processing that."
	}
	metrics.AssistantDuration.WithLabelValues(a.llm.Name(), "success").
		Observe(time.Since(start).Seconds())

	if resp.Content == "" {
		return "Done."
	}
	return resp.Content
}

// buildPrompt assembles recent assistant-thread history plus the new
// message, resolving attachments into model-consumable context.
func (a *Assistant) buildPrompt(ctx context.Context, userID string, userMsg *model.Message) ([]llm.ChatMessage, error) {
	history, err := a.store.History(ctx, userID)
	if err != nil {
		// History is context, not a requirement.
		a.log.Warn("assistant history unavailable", "user_id", userID, "error", err)
		history = nil
	}
	if len(history) > assistantHistoryLimit {
		history = history[len(history)-assistantHistoryLimit:]
	}

	var messages []llm.ChatMessage
	for _, m := range history {
		if m.ID == userMsg.ID || m.Content == "" {
			continue
		}
		messages = append(messages, llm.ChatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	current := llm.ChatMessage{Role: string(model.RoleUser), Content: userMsg.Content}

	switch {
	case userMsg.Kind == model.KindImage && userMsg.AttachmentRef != nil:
		dataURL, err := a.attachments.ReadImageDataURL(*userMsg.AttachmentRef)
		if err != nil {
			return nil, err
		}
		if current.Content == "" {
			current.Content = "Analyze this image."
		}
		current.ImageURL = dataURL

	case userMsg.Kind == model.KindFile && userMsg.AttachmentRef != nil:
		if a.extractor == nil {
			return nil, fmt.Errorf("no document extractor configured")
		}
		f, err := a.attachments.Open(*userMsg.AttachmentRef)
		if err != nil {
			return nil, err
		}
		text, err := a.extractor.Extract(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		if len(text) > documentContextLimit {
			text = text[:documentContextLimit]
		}
		prompt := current.Content
		if prompt == "" {
			prompt = "Analyze this document"
		}
		current.Content = prompt + "\n\nDocument Content:\n" + strings.TrimSpace(text)
	}

	return append(messages, current), nil
}
