package transport

import (
	"encoding/base64"
	"encoding/json"
)

// Event types of the conversational agent protocol.
const (
	eventInitiationClientData = "conversation_initiation_client_data"
	eventInitiationMetadata   = "conversation_initiation_metadata"
	eventUserMessage          = "user_message"
	eventContextualUpdate     = "contextual_update"
	eventUserTranscript       = "user_transcript"
	eventAgentResponse        = "agent_response"
	eventAudio                = "audio"
	eventInterruption         = "interruption"
	eventPing                 = "ping"
	eventPong                 = "pong"
	eventError                = "error"
)

// Dynamic variable names the agent prompt refers to.
const (
	varSessionID      = "sessionId"
	varInitialContext = "initialConversationContext"
)

type initiationEvent struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
	ConfigOverride   *configOverride   `json:"conversation_config_override,omitempty"`
}

type configOverride struct {
	Agent *agentOverride `json:"agent,omitempty"`
}

type agentOverride struct {
	Language string `json:"language,omitempty"`
}

type textEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pongEvent struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// incomingEvent covers every server event the adapters act on.
type incomingEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	InitiationMetadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`
	UserTranscription *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`
	AgentResponse *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`
	AudioEvent *struct {
		EventID     int    `json:"event_id"`
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event,omitempty"`
	PingEvent *struct {
		EventID int `json:"event_id"`
		PingMs  int `json:"ping_ms,omitempty"`
	} `json:"ping_event,omitempty"`
}

// encodeInitiation builds the first client event of a session.
func encodeInitiation(p ConnectParams) ([]byte, error) {
	ev := initiationEvent{
		Type: eventInitiationClientData,
		DynamicVariables: map[string]string{
			varSessionID:      p.SessionID,
			varInitialContext: p.InitialContext,
		},
	}
	if p.Language != "" {
		ev.ConfigOverride = &configOverride{Agent: &agentOverride{Language: p.Language}}
	}
	return json.Marshal(ev)
}

func encodeText(eventType, text string) ([]byte, error) {
	return json.Marshal(textEvent{Type: eventType, Text: text})
}

func encodePong(eventID int) ([]byte, error) {
	return json.Marshal(pongEvent{Type: eventPong, EventID: eventID})
}

func encodeAudioChunk(pcm []byte) ([]byte, error) {
	return json.Marshal(map[string]string{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(pcm),
	})
}

// toMessage converts a decoded event into the telemetry shape.
func toMessage(ev incomingEvent, raw []byte) Message {
	msg := Message{Type: ev.Type, Source: "system", Raw: json.RawMessage(raw)}
	switch ev.Type {
	case eventUserTranscript:
		msg.Source = "user"
		if ev.UserTranscription != nil {
			msg.Text = ev.UserTranscription.UserTranscript
		} else {
			msg.Text = ev.Text
		}
	case eventAgentResponse:
		msg.Source = "agent"
		if ev.AgentResponse != nil {
			msg.Text = ev.AgentResponse.AgentResponse
		} else {
			msg.Text = ev.Text
		}
	case eventError:
		msg.Text = ev.Message
	}
	return msg
}

// decodeAudio extracts agent audio from an audio event.
func decodeAudio(ev incomingEvent) ([]byte, error) {
	if ev.AudioEvent == nil || ev.AudioEvent.AudioBase64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(ev.AudioEvent.AudioBase64)
}
