package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"imagecrop/crop"
)

// eventMessage is the wire form of a normalized input event:
//
//	{"type": "start", "points": [{"pageX": 10, "pageY": 20}]}
//	{"type": "resize", "width": 320, "height": 568}
type eventMessage struct {
	Event crop.Event
}

type wirePoint struct {
	PageX float64 `json:"pageX"`
	PageY float64 `json:"pageY"`
}

func (m *eventMessage) UnmarshalJSON(data []byte) error {
	var msg struct {
		Type   string      `json:"type"`
		Points []wirePoint `json:"points"`
		Width  float64     `json:"width"`
		Height float64     `json:"height"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	points := make([]crop.Point, len(msg.Points))
	for i, p := range msg.Points {
		points[i] = crop.Point{X: p.PageX, Y: p.PageY}
	}
	size := crop.Size{Width: msg.Width, Height: msg.Height}

	switch msg.Type {
	case "start":
		m.Event = crop.Start{Points: points}
	case "move":
		m.Event = crop.Move{Points: points}
	case "end":
		m.Event = crop.End{Points: points}
	case "cancel":
		m.Event = crop.Cancel{}
	case "resize":
		m.Event = crop.ContainerResize{Size: size}
	case "orientationchange":
		m.Event = crop.OrientationChange{Size: size}
	default:
		return fmt.Errorf("unknown event %q", msg.Type)
	}
	return nil
}

func toEvents(msgs []eventMessage) []crop.Event {
	events := make([]crop.Event, len(msgs))
	for i, msg := range msgs {
		events[i] = msg.Event
	}
	return events
}

// decodeEvents reads newline delimited event messages from r and hands each to
// fn in order.
func decodeEvents(r io.Reader, fn func(crop.Event)) error {
	dec := json.NewDecoder(r)
	for line := 1; ; line++ {
		var msg eventMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("event %d: %w", line, err)
		}
		fn(msg.Event)
	}
}
