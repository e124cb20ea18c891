package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nescampos/coralmultichannel/pkg/sip"
)

// Telephony is the slice of the call manager the tools need.
type Telephony interface {
	MakeCall(ctx context.Context, to string) (*sip.CallSession, error)
	EndCall(ctx context.Context, callID string) error
	ActiveCalls() []*sip.CallSession
}

// CallPhoneTool places an outbound call.
type CallPhoneTool struct {
	manager Telephony
}

func NewCallPhoneTool(m Telephony) *CallPhoneTool { return &CallPhoneTool{manager: m} }

func (t *CallPhoneTool) Name() string { return "call_phone" }

func (t *CallPhoneTool) Description() string {
	return "Place an outbound phone call to a number and return the call id once the call is established."
}

func (t *CallPhoneTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"number": map[string]interface{}{
				"type":        "string",
				"description": "Phone number to call in E.164 form (e.g. \"+14155550123\")",
			},
		},
		"required": []string{"number"},
	}
}

func (t *CallPhoneTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	number, ok := args["number"].(string)
	if !ok || strings.TrimSpace(number) == "" {
		return "", fmt.Errorf("number is required")
	}

	session, err := t.manager.MakeCall(ctx, number)
	if err != nil {
		return "", fmt.Errorf("call to %s failed: %w", number, err)
	}
	return fmt.Sprintf("Call established to %s (call id %s)", number, session.CallID), nil
}

// EndCallTool hangs up an active call.
type EndCallTool struct {
	manager Telephony
}

func NewEndCallTool(m Telephony) *EndCallTool { return &EndCallTool{manager: m} }

func (t *EndCallTool) Name() string { return "end_call" }

func (t *EndCallTool) Description() string {
	return "Hang up an active phone call by its call id."
}

func (t *EndCallTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"call_id": map[string]interface{}{
				"type":        "string",
				"description": "Identifier of the call to end",
			},
		},
		"required": []string{"call_id"},
	}
}

func (t *EndCallTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	callID, ok := args["call_id"].(string)
	if !ok || strings.TrimSpace(callID) == "" {
		return "", fmt.Errorf("call_id is required")
	}
	if err := t.manager.EndCall(ctx, callID); err != nil {
		return "", fmt.Errorf("end call %s: %w", callID, err)
	}
	return fmt.Sprintf("Call %s ended", callID), nil
}

// ListCallsTool reports the currently active calls.
type ListCallsTool struct {
	manager Telephony
}

func NewListCallsTool(m Telephony) *ListCallsTool { return &ListCallsTool{manager: m} }

func (t *ListCallsTool) Name() string { return "list_calls" }

func (t *ListCallsTool) Description() string {
	return "List the currently active phone calls with their call ids and remote parties."
}

func (t *ListCallsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListCallsTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	active := t.manager.ActiveCalls()
	if len(active) == 0 {
		return "No active calls.", nil
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d active call(s):\n", len(active)))
	for _, s := range active {
		b.WriteString(fmt.Sprintf("- %s: %s (%s, %s)\n", s.CallID, s.RemoteParty, s.Direction, s.State()))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// SMSSendFunc delivers an SMS through the text-messaging channel.
type SMSSendFunc func(ctx context.Context, to, text string) error

// SendSMSTool sends a text message to a phone number.
type SendSMSTool struct {
	send SMSSendFunc
}

func NewSendSMSTool(send SMSSendFunc) *SendSMSTool { return &SendSMSTool{send: send} }

func (t *SendSMSTool) Name() string { return "send_sms" }

func (t *SendSMSTool) Description() string {
	return "Send an SMS text message to a phone number."
}

func (t *SendSMSTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"number": map[string]interface{}{
				"type":        "string",
				"description": "Phone number to text in E.164 form",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Text message content to send",
			},
		},
		"required": []string{"number", "message"},
	}
}

func (t *SendSMSTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	number, ok := args["number"].(string)
	if !ok || strings.TrimSpace(number) == "" {
		return "", fmt.Errorf("number is required")
	}
	message, ok := args["message"].(string)
	if !ok || strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message is required")
	}
	if err := t.send(ctx, number, message); err != nil {
		return "", fmt.Errorf("send sms to %s: %w", number, err)
	}
	return fmt.Sprintf("SMS sent to %s", number), nil
}
