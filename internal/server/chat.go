package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/arashpx/seekly/config"
	"github.com/arashpx/seekly/internal/agent"
	"github.com/arashpx/seekly/internal/cache"
	"github.com/arashpx/seekly/internal/fragment"
	"github.com/arashpx/seekly/internal/index"
	"github.com/arashpx/seekly/internal/store"
	"github.com/arashpx/seekly/internal/stream"
	"github.com/arashpx/seekly/internal/tools"
)

// ChatHandler owns the SSE chat surface: the retrieval loop entry point,
// stream cancellation, chat listing and workspace document ingestion.
type ChatHandler struct {
	Cfg     *config.Config
	Store   *store.Store
	Cache   *cache.Cache
	Index   *index.Index
	Ctrl    *agent.Controller
	Streams *stream.ActiveStreams
	Logger  *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/chat", h.chat)
	g.POST("/chat/stop", h.stop)
	g.GET("/chats", h.listChats)
	g.GET("/chats/:id/messages", h.listMessages)
	g.POST("/ingest", h.ingest)
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	userID, _ := c.Get("user_id").(string)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	agentPrompt := ""
	if req.AgentID != "" {
		prompt, ok := h.Cfg.Agent.Agents[req.AgentID]
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown agent "+req.AgentID)
		}
		agentPrompt = prompt
	}

	ctx := c.Request().Context()

	email, err := h.Store.GetUserEmail(ctx, userID)
	if err != nil {
		h.Logger.Printf("email lookup for user %s: %v", userID, err)
	}

	externalID := req.ChatID
	if externalID == "" {
		externalID = uuid.NewString()
	}
	newChat := false
	chat, err := h.Store.GetChatByExternalID(ctx, userID, externalID)
	if errors.Is(err, store.ErrNotFound) {
		id, cerr := h.Store.CreateChat(ctx, userID, externalID, "")
		if cerr != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, cerr.Error())
		}
		chat = store.Chat{ID: id, UserID: userID, ExternalID: externalID}
		newChat = true
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	history, err := h.loadHistory(ctx, chat.ID)
	if err != nil {
		h.Logger.Printf("history load for chat %s: %v", externalID, err)
	}

	userMsgID, err := h.Store.InsertMessage(ctx, store.Message{
		ChatID:  chat.ID,
		Role:    "user",
		Content: req.Message,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := h.Streams.Register(externalID, cancel); err != nil {
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	}
	defer h.Streams.Remove(externalID)

	sink, err := stream.NewSSEEmitter(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	model := req.ModelID
	if model == "" {
		model = h.Cfg.LLM.Routing.Planning
	}

	if newChat {
		titleModel := h.Cfg.LLM.Routing.Title
		if titleModel == "" {
			titleModel = model
		}
		if title, terr := h.Ctrl.Title(runCtx, req.Message, titleModel); terr == nil && title != "" {
			if uerr := h.Store.UpdateChatTitle(runCtx, chat.ID, userID, title); uerr != nil {
				h.Logger.Printf("title update for chat %s: %v", externalID, uerr)
			}
			_ = sink.Emit(stream.Event{Type: stream.EventChatTitleUpdate, Payload: stream.TitlePayload{
				ChatID: externalID, Title: title,
			}})
		} else if terr != nil {
			h.Logger.Printf("title generation for chat %s: %v", externalID, terr)
		}
	}

	frags := fragment.NewStore()
	registry, sessions := h.buildRegistry(runCtx, frags, req.ToolsList)
	defer func() {
		for _, s := range sessions {
			if cerr := s.Close(); cerr != nil {
				h.Logger.Printf("connector %s close: %v", s.Name(), cerr)
			}
		}
	}()

	messageID := uuid.NewString()
	out := h.Ctrl.Run(runCtx, agent.Request{
		Message:     req.Message,
		ChatID:      externalID,
		MessageID:   messageID,
		Model:       model,
		AgentPrompt: agentPrompt,
		History:     history,
		Caller: tools.CallerContext{
			UserEmail:   email,
			WorkspaceID: chat.ID,
			AgentPrompt: agentPrompt,
			Message:     req.Message,
		},
		Registry:  registry,
		Fragments: frags,
	}, sink)

	h.persistOutcome(chat.ID, userMsgID, out)
	return nil
}

// persistOutcome writes the assistant message and its trace once, on every
// exit path including aborts. A fatal run additionally annotates the user
// message that triggered it. It uses a fresh context because the request
// context is typically gone by the time an aborted run lands here.
func (h *ChatHandler) persistOutcome(chatID, userMsgID string, out agent.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	citations, err := json.Marshal(out.Citations)
	if err != nil {
		citations = []byte(`[]`)
	}
	var errMsg *string
	if out.Err != nil {
		s := out.Err.Error()
		errMsg = &s
		if userMsgID != "" {
			if aerr := h.Store.AnnotateMessageError(ctx, userMsgID, s); aerr != nil {
				h.Logger.Printf("user message annotation for chat %s: %v", chatID, aerr)
			}
		}
	}
	msgID, err := h.Store.InsertMessage(ctx, store.Message{
		ChatID:    chatID,
		Role:      "assistant",
		Content:   out.Answer,
		Citations: citations,
		ErrorMsg:  errMsg,
	})
	if err != nil {
		h.Logger.Printf("assistant message persist for chat %s: %v", chatID, err)
		return
	}
	trace, err := json.Marshal(out.Trace)
	if err != nil {
		trace = []byte(`[]`)
	}
	if err := h.Store.InsertChatTrace(ctx, chatID, msgID, trace); err != nil {
		h.Logger.Printf("trace persist for chat %s: %v", chatID, err)
	}
	if h.Cache != nil {
		if err := h.Cache.InvalidateHistory(ctx, chatID); err != nil {
			h.Logger.Printf("history invalidate for chat %s: %v", chatID, err)
		}
	}
}

// loadHistory renders the recent message window for the planning prompt,
// preferring the redis cache over postgres.
func (h *ChatHandler) loadHistory(ctx context.Context, chatID string) (string, error) {
	var msgs []store.Message
	var err error
	if h.Cache != nil {
		msgs, err = h.Cache.GetHistory(ctx, chatID)
	} else {
		err = cache.ErrMiss
	}
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			h.Logger.Printf("history cache read for chat %s: %v", chatID, err)
		}
		msgs, err = h.Store.ListRecentMessages(ctx, chatID, h.Cfg.Server.HistoryLimit)
		if err != nil {
			return "", err
		}
		if h.Cache != nil && len(msgs) > 0 {
			if serr := h.Cache.SetHistory(ctx, chatID, msgs); serr != nil {
				h.Logger.Printf("history cache write for chat %s: %v", chatID, serr)
			}
		}
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// buildRegistry assembles the per-request tool set: the internal retrieval
// tools sharing one evidence-exclusion view, plus whatever connector sessions
// come up. Connector failures degrade to internal tools only. A non-empty
// toolsList restricts the registry to the named tools.
func (h *ChatHandler) buildRegistry(ctx context.Context, frags *fragment.Store, toolsList []string) (*tools.Registry, []*tools.ConnectorSession) {
	known := func() map[string]struct{} {
		ids := frags.IDs()
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		return set
	}
	allowed := make(map[string]struct{}, len(toolsList))
	for _, name := range toolsList {
		if name = strings.TrimSpace(name); name != "" {
			allowed[name] = struct{}{}
		}
	}
	wanted := func(name string) bool {
		if len(allowed) == 0 {
			return true
		}
		_, ok := allowed[name]
		return ok
	}

	registry := tools.NewRegistry()
	limit := h.Cfg.Index.DefaultLimit
	for _, t := range []tools.Tool{
		tools.NewSearchTool(h.Index, limit, known),
		tools.NewMetadataTool(h.Index, limit, known),
		tools.NewTimeSearchTool(h.Index, limit, known),
		tools.NewFetchTool(h.Cfg.Fetch.Timeout, h.Cfg.Fetch.MaxChars, h.Cfg.Fetch.UseBrowser),
	} {
		if !wanted(t.Name()) {
			continue
		}
		if err := registry.Register(t); err != nil {
			h.Logger.Printf("tool %s registration: %v", t.Name(), err)
		}
	}

	sessions := tools.ConnectSessions(ctx, h.Cfg.Connectors, h.Logger)
	for _, s := range sessions {
		for _, t := range s.Tools() {
			if !wanted(t.Name()) {
				continue
			}
			if err := registry.Register(t); err != nil {
				h.Logger.Printf("connector tool %s registration: %v", t.Name(), err)
			}
		}
	}
	return registry, sessions
}

func (h *ChatHandler) stop(c echo.Context) error {
	var req StopRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ChatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chatId is required")
	}
	stopped := h.Streams.Stop(req.ChatID)
	if h.Cache != nil {
		// Another instance may hold the stream.
		if err := h.Cache.PublishStop(c.Request().Context(), req.ChatID); err != nil {
			h.Logger.Printf("stop publish for chat %s: %v", req.ChatID, err)
		}
	}
	return c.JSON(http.StatusOK, map[string]bool{"stopped": stopped})
}

func (h *ChatHandler) listChats(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	chats, err := h.Store.ListChats(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]ChatSummary, 0, len(chats))
	for _, ch := range chats {
		resp = append(resp, ChatSummary{
			ID:        ch.ExternalID,
			Title:     ch.Title,
			UpdatedAt: ch.UpdatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) listMessages(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	chat, err := h.Store.GetChatByExternalID(c.Request().Context(), userID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	msgs, err := h.Store.ListRecentMessages(c.Request().Context(), chat.ID, h.Cfg.Server.HistoryLimit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		var cites interface{}
		if len(m.Citations) > 0 {
			_ = json.Unmarshal(m.Citations, &cites)
		}
		resp = append(resp, MessageResponse{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Citations: cites,
			Error:     m.ErrorMsg,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) ingest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents are required")
	}
	ctx := c.Request().Context()
	added := 0
	for _, d := range req.Documents {
		if err := index.ValidateApp(d.App); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := index.ValidateEntity(d.Entity); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		updated := time.Now()
		if d.UpdatedAt != "" {
			parsed, perr := time.Parse(time.RFC3339, d.UpdatedAt)
			if perr != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "updated_at must be RFC3339: "+perr.Error())
			}
			updated = parsed
		}
		doc := index.Document{
			DocID:     d.DocID,
			App:       d.App,
			Entity:    d.Entity,
			Title:     d.Title,
			URL:       d.URL,
			Content:   d.Content,
			Owner:     d.Owner,
			UpdatedAt: updated,
		}
		if doc.DocID == "" {
			doc.DocID = uuid.NewString()
		}
		if err := h.Index.Add(ctx, doc); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		added++
	}
	return c.JSON(http.StatusOK, map[string]int{"indexed": added})
}
