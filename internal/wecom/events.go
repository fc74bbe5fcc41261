// Event XML parsing for WeCom callbacks.
//
// Callbacks arrive as an encrypted envelope; after decryption the body is a
// small XML document describing the event. The only event this service acts
// on is an external group-chat membership change with new members added, but
// the envelope and event types are parsed generically so handlers can log
// what they skip.
package wecom

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// Event type and change subtype values acted on by this service.
const (
	EventChangeExternalChat = "change_external_chat"
	ChangeTypeAddMember     = "add_member"
)

// Envelope is the outer callback document carrying the encrypted payload.
type Envelope struct {
	ToUserName string `xml:"ToUserName"`
	AgentID    string `xml:"AgentID"`
	Encrypt    string `xml:"Encrypt"`
}

// Event is a decrypted callback event. SubjectIDs collects every
// ExternalUserID element at any depth, matching the platform's habit of
// nesting the list differently across event versions.
type Event struct {
	MsgType    string
	Event      string
	ChangeType string
	ChatID     string
	SubjectIDs []string
}

// IsGroupJoin reports whether the event is an external-chat membership
// change with new members.
func (e *Event) IsGroupJoin() bool {
	return e.Event == EventChangeExternalChat && e.ChangeType == ChangeTypeAddMember
}

// ParseEnvelope unmarshals the encrypted callback envelope.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("wecom: parse callback envelope: %w", err)
	}
	if env.Encrypt == "" {
		return nil, fmt.Errorf("wecom: callback envelope has no Encrypt element")
	}
	return &env, nil
}

// ParseEvent extracts the event header fields and all ExternalUserID values
// from a decrypted callback body.
func ParseEvent(body []byte) (*Event, error) {
	var header struct {
		MsgType    string `xml:"MsgType"`
		Event      string `xml:"Event"`
		ChangeType string `xml:"ChangeType"`
		ChatID     string `xml:"ChatId"`
	}
	if err := xml.Unmarshal(body, &header); err != nil {
		return nil, fmt.Errorf("wecom: parse event: %w", err)
	}

	ev := &Event{
		MsgType:    header.MsgType,
		Event:      header.Event,
		ChangeType: header.ChangeType,
		ChatID:     header.ChatID,
	}

	// ExternalUserID may appear at the top level or nested inside a member
	// change list; walk all tokens rather than pinning a schema.
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("wecom: scan event: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "ExternalUserID" {
			continue
		}
		var id string
		if err := dec.DecodeElement(&id, &start); err != nil {
			return nil, fmt.Errorf("wecom: decode ExternalUserID: %w", err)
		}
		if id != "" {
			ev.SubjectIDs = append(ev.SubjectIDs, id)
		}
	}
	return ev, nil
}
