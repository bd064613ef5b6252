// Package mcp exposes DM tooling over the Model Context Protocol: listing
// rooms, inspecting state, driving actions and rewinding turns from an
// MCP-capable client.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"

	"github.com/tabletoplab/skirmish/internal/registry"
	"github.com/tabletoplab/skirmish/pkg/domain"
)

// StateResponse wraps a full session state for structured tool output.
type StateResponse struct {
	State *domain.SessionState `json:"state"`
}

// ActionResponse reports the validation outcome of a driven action.
type ActionResponse struct {
	Result domain.ValidationResult `json:"result"`
	State  *domain.SessionState    `json:"state,omitempty"`
}

// Server exposes a room registry as an MCP server.
type Server struct {
	registry  *registry.Registry
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server over the given registry.
func NewServer(reg *registry.Registry, version string) *Server {
	s := &Server{
		registry:  reg,
		mcpServer: server.NewMCPServer("skirmish-mcp", version),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	// TOOL: list_rooms
	s.mcpServer.AddTool(mcp.NewTool("list_rooms",
		mcp.WithDescription("List every live encounter room with its status, round and participant count."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, _ := json.Marshal(s.registry.List())
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})

	// TOOL: get_room_state
	stateTool := mcp.NewTool("get_room_state",
		mcp.WithDescription("Get the full session state of one room: initiative, participants, map, turn history."),
		mcp.WithString("room_id", mcp.Required(), mcp.Description("The room's interaction id")),
		mcp.WithOutputSchema[StateResponse](),
	)
	s.mcpServer.AddTool(stateTool, mcp.NewStructuredToolHandler(s.handleGetRoomState))

	// TOOL: submit_action
	actionTool := mcp.NewTool("submit_action",
		mcp.WithDescription("Submit a turn action (move/attack/useItem/cast/interact/end) for an entity. Returns the validation result; invalid actions change nothing."),
		mcp.WithString("room_id", mcp.Required(), mcp.Description("The room's interaction id")),
		mcp.WithObject("action", mcp.Required(), mcp.Description("The action: {kind, entityId, target?, position?, itemId?, spellId?}")),
		mcp.WithOutputSchema[ActionResponse](),
	)
	s.mcpServer.AddTool(actionTool, mcp.NewStructuredToolHandler(s.handleSubmitAction))

	// TOOL: skip_turn
	skipTool := mcp.NewTool("skip_turn",
		mcp.WithDescription("Skip the current entity's turn (DM override)."),
		mcp.WithString("room_id", mcp.Required(), mcp.Description("The room's interaction id")),
		mcp.WithString("reason", mcp.Description("Why the turn is skipped")),
		mcp.WithOutputSchema[StateResponse](),
	)
	s.mcpServer.AddTool(skipTool, mcp.NewStructuredToolHandler(s.handleSkipTurn))

	// TOOL: backtrack_turn
	backtrackTool := mcp.NewTool("backtrack_turn",
		mcp.WithDescription("Rewind the session to a previous turn, discarding the turns after it (DM only)."),
		mcp.WithString("room_id", mcp.Required(), mcp.Description("The room's interaction id")),
		mcp.WithNumber("turn_number", mcp.Required(), mcp.Description("Turn number to rewind to")),
		mcp.WithNumber("round_number", mcp.Required(), mcp.Description("Round number the turn belongs to")),
		mcp.WithString("actor_id", mcp.Required(), mcp.Description("The DM performing the rewind")),
		mcp.WithOutputSchema[StateResponse](),
	)
	s.mcpServer.AddTool(backtrackTool, mcp.NewStructuredToolHandler(s.handleBacktrack))

	// TOOL: save_room
	saveTool := mcp.NewTool("save_room",
		mcp.WithDescription("Write a manual snapshot of the room's state to durable storage."),
		mcp.WithString("room_id", mcp.Required(), mcp.Description("The room's interaction id")),
		mcp.WithOutputSchema[StateResponse](),
	)
	s.mcpServer.AddTool(saveTool, mcp.NewStructuredToolHandler(s.handleSave))
}

func (s *Server) handleGetRoomState(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	roomID, _ := args["room_id"].(string)
	rm, err := s.registry.Get(roomID)
	if err != nil {
		return StateResponse{}, err
	}
	return StateResponse{State: rm.State()}, nil
}

func (s *Server) handleSubmitAction(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ActionResponse, error) {
	roomID, _ := args["room_id"].(string)
	rm, err := s.registry.Get(roomID)
	if err != nil {
		return ActionResponse{}, err
	}

	action, err := decodeAction(args["action"])
	if err != nil {
		return ActionResponse{}, fmt.Errorf("decode action: %w", err)
	}

	result := rm.SubmitAction(action)
	resp := ActionResponse{Result: result}
	if result.Valid {
		resp.State = rm.State()
	}
	return resp, nil
}

func (s *Server) handleSkipTurn(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	roomID, _ := args["room_id"].(string)
	rm, err := s.registry.Get(roomID)
	if err != nil {
		return StateResponse{}, err
	}

	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "dm skip"
	}
	rm.SkipTurn(reason)
	return StateResponse{State: rm.State()}, nil
}

func (s *Server) handleBacktrack(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	roomID, _ := args["room_id"].(string)
	rm, err := s.registry.Get(roomID)
	if err != nil {
		return StateResponse{}, err
	}

	turn, _ := args["turn_number"].(float64)
	round, _ := args["round_number"].(float64)
	actorID, _ := args["actor_id"].(string)

	if err := rm.Backtrack(int(turn), int(round), actorID); err != nil {
		return StateResponse{}, err
	}
	return StateResponse{State: rm.State()}, nil
}

func (s *Server) handleSave(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StateResponse, error) {
	roomID, _ := args["room_id"].(string)
	rm, err := s.registry.Get(roomID)
	if err != nil {
		return StateResponse{}, err
	}
	if err := rm.Save(ctx); err != nil {
		return StateResponse{}, err
	}
	return StateResponse{State: rm.State()}, nil
}

// decodeAction turns the loosely typed tool argument into a TurnAction.
// Numbers arrive as float64 from JSON, so decoding is weakly typed.
func decodeAction(raw any) (domain.TurnAction, error) {
	var action domain.TurnAction
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &action,
	})
	if err != nil {
		return domain.TurnAction{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return domain.TurnAction{}, err
	}
	if action.Kind == "" || action.EntityID == "" {
		return domain.TurnAction{}, fmt.Errorf("action requires kind and entityId")
	}
	return action, nil
}

func (s *Server) registerResources() {
	// EXPOSE: skirmish://rooms
	s.mcpServer.AddResource(mcp.NewResource("skirmish://rooms", "Live Encounter Rooms",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.registry.List())
		if err != nil {
			return nil, fmt.Errorf("failed to list rooms: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "skirmish://rooms",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
