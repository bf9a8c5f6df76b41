package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/windfall/langodyssey/internal/errors"
	"github.com/windfall/langodyssey/internal/repository"
	"github.com/windfall/langodyssey/internal/service"
)

type fakeStates struct {
	view *service.SessionView
	err  error
}

func (f fakeStates) State(ctx context.Context, userID string) (*service.SessionView, error) {
	return f.view, f.err
}

func decode(t *testing.T, raw []byte) (string, map[string]interface{}) {
	t.Helper()
	var out struct {
		Type    string                 `json:"type"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return out.Type, out.Payload
}

func TestHandle(t *testing.T) {
	view := &service.SessionView{UserID: "u1", PromptID: 7, State: repository.StatePresenting}

	tests := []struct {
		name     string
		states   fakeStates
		msgType  string
		wantType string
		check    func(t *testing.T, payload map[string]interface{})
	}{
		{
			name:     "ping",
			msgType:  TypePing,
			wantType: TypePong,
		},
		{
			name:     "state",
			states:   fakeStates{view: view},
			msgType:  TypeState,
			wantType: TypeState,
			check: func(t *testing.T, p map[string]interface{}) {
				if p["prompt_id"] != float64(7) {
					t.Errorf("prompt_id = %v", p["prompt_id"])
				}
			},
		},
		{
			name:     "state app error",
			states:   fakeStates{err: errors.Unauthorized("unknown user")},
			msgType:  TypeState,
			wantType: TypeError,
			check: func(t *testing.T, p map[string]interface{}) {
				if p["code"] != string(errors.ErrUnauthorized) {
					t.Errorf("code = %v", p["code"])
				}
			},
		},
		{
			name:     "state plain error",
			states:   fakeStates{err: context.DeadlineExceeded},
			msgType:  TypeState,
			wantType: TypeError,
			check: func(t *testing.T, p map[string]interface{}) {
				if p["code"] != string(errors.ErrInternal) {
					t.Errorf("code = %v", p["code"])
				}
			},
		},
		{
			name:     "unknown",
			msgType:  "dance",
			wantType: TypeError,
			check: func(t *testing.T, p map[string]interface{}) {
				if p["code"] != string(errors.ErrValidation) {
					t.Errorf("code = %v", p["code"])
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(zerolog.Nop(), tc.states)
			raw, err := h.Handle(context.Background(), "u1", tc.msgType, nil)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			gotType, payload := decode(t, raw)
			if gotType != tc.wantType {
				t.Fatalf("type = %q, want %q", gotType, tc.wantType)
			}
			if tc.check != nil {
				tc.check(t, payload)
			}
		})
	}
}
