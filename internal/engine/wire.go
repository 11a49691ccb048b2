package engine

import (
	"encoding/json"
	"time"
)

var zeroTime time.Time

// Client -> server messages.

type setupMessage struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities string `json:"responseModalities"`
			SpeechConfig       struct {
				VoiceConfig struct {
					PrebuiltVoiceConfig struct {
						VoiceName string `json:"voiceName"`
					} `json:"prebuiltVoiceConfig"`
				} `json:"voiceConfig"`
			} `json:"speechConfig"`
		} `json:"generationConfig"`
		SystemInstruction *contentPayload `json:"systemInstruction,omitempty"`
		Tools             []toolsPayload  `json:"tools,omitempty"`
	} `json:"setup"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		MediaChunks []blobPayload `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type clientContentMessage struct {
	ClientContent struct {
		Turns        []turnPayload `json:"turns"`
		TurnComplete bool          `json:"turnComplete"`
	} `json:"clientContent"`
}

type toolResponseMessage struct {
	ToolResponse struct {
		FunctionResponses []functionResponse `json:"functionResponses"`
	} `json:"toolResponse"`
}

type functionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type toolsPayload struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type contentPayload struct {
	Parts []partPayload `json:"parts"`
}

type turnPayload struct {
	Role  string        `json:"role"`
	Parts []partPayload `json:"parts"`
}

type partPayload struct {
	Text       string       `json:"text,omitempty"`
	InlineData *blobPayload `json:"inlineData,omitempty"`
}

type blobPayload struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Server -> client messages.

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete"`
	ServerContent *serverContent `json:"serverContent"`
	ToolCall      *toolCall      `json:"toolCall"`
	GoAway        *struct{}      `json:"goAway"`
}

type serverContent struct {
	ModelTurn    *contentPayload `json:"modelTurn"`
	Interrupted  bool            `json:"interrupted"`
	TurnComplete bool            `json:"turnComplete"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}
