package telephony

import (
	"encoding/xml"
	"fmt"
)

// TwiML response directing the carrier to open a bidirectional media
// stream to the bridge.
type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     string        `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// ConnectStreamResponse renders the webhook answer: an optional spoken
// announcement followed by a <Connect><Stream> to streamURL.
func ConnectStreamResponse(announcement, streamURL string) ([]byte, error) {
	resp := twimlResponse{
		Say:     announcement,
		Connect: &twimlConnect{Stream: twimlStream{URL: streamURL}},
	}
	body, err := xml.MarshalIndent(resp, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("render twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
