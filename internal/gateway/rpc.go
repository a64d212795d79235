package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/moltmarket/bench-engine/internal/metrics"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
)

const protocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func makeResult(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func makeError(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

// toolContent is one entry of a tools/call result payload.
type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// toolResult carries a tool's output inside a successful JSON-RPC envelope.
// IsError distinguishes a failed tool run from a protocol-level error.
type toolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// HandleRPC serves JSON-RPC 2.0 over POST /mcp. A batch (JSON array) is
// dispatched concurrently and answered as an array in submission order.
func (s *Service) HandleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPC(w, http.StatusBadRequest, makeError(nil, codeParseError, "failed to read request body"))
		return
	}

	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []rpcRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			writeRPC(w, http.StatusBadRequest, makeError(nil, codeParseError, "malformed JSON-RPC batch"))
			return
		}

		responses := make([]rpcResponse, len(reqs))
		var wg sync.WaitGroup
		for i := range reqs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				responses[i] = s.dispatch(r, reqs[i])
			}(i)
		}
		wg.Wait()

		writeRPC(w, http.StatusOK, responses)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPC(w, http.StatusBadRequest, makeError(nil, codeParseError, "malformed JSON-RPC request"))
		return
	}
	writeRPC(w, http.StatusOK, s.dispatch(r, req))
}

// dispatch routes one JSON-RPC request. Requests are self-contained; the
// bearer credential, when a tool needs one, rides on the HTTP request.
func (s *Service) dispatch(r *http.Request, req rpcRequest) rpcResponse {
	outcome := "ok"
	defer func() {
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, outcome).Inc()
	}()

	switch req.Method {
	case "initialize":
		return makeResult(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": serverVersion,
			},
		})

	case "ping":
		return makeResult(req.ID, map[string]any{})

	case "tools/list":
		return makeResult(req.ID, map[string]any{"tools": toolDefs})

	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				outcome = "invalid_params"
				return makeError(req.ID, codeInvalidRequest, "invalid tools/call params")
			}
		}

		result, err := s.executeTool(r, params.Name, params.Arguments)
		if err != nil {
			outcome = "tool_error"
			metrics.ToolCallsTotal.WithLabelValues(params.Name, "error").Inc()
			return makeResult(req.ID, toolResult{
				Content: []toolContent{{Type: "text", Text: "Error: " + err.Error()}},
				IsError: true,
			})
		}

		metrics.ToolCallsTotal.WithLabelValues(params.Name, "ok").Inc()
		payload, err := json.Marshal(result)
		if err != nil {
			outcome = "tool_error"
			return makeResult(req.ID, toolResult{
				Content: []toolContent{{Type: "text", Text: "Error: encoding tool result"}},
				IsError: true,
			})
		}
		return makeResult(req.ID, toolResult{
			Content: []toolContent{{Type: "text", Text: string(payload)}},
		})

	default:
		outcome = "method_not_found"
		return makeError(req.ID, codeMethodNotFound, "Method not found: "+req.Method)
	}
}

// HandleInfo serves GET /mcp: a plain info document for humans and health
// checks, listing the tool names the endpoint accepts.
func (s *Service) HandleInfo(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(toolDefs))
	for _, t := range toolDefs {
		names = append(names, t.Name)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":      serverName,
		"version":   serverVersion,
		"transport": "streamable-http",
		"tools":     names,
		"docs":      "POST JSON-RPC 2.0 requests to this endpoint.",
	})
}

func writeRPC(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
