package watch

import (
	"errors"
	"fmt"
	"html"
	"math/rand/v2"
	"strings"
)

const (
	SlotSubject  = "{subject}"
	SlotLocation = "{location}"
)

// DefaultTemplates is the built-in message set.
var DefaultTemplates = []string{
	"👀 {subject} just popped into {location}.",
	"🔔 Heads up: {subject} has arrived in {location}.",
	"🚪 The door creaks open... it's {subject}, now in {location}!",
	"✨ {subject} materialized in {location}. Go say hi!",
	"🦉 A little owl reports {subject} perched in {location}.",
	"📡 Signal acquired: {subject} is live in {location}.",
	"🎈 {subject} floated into {location}.",
	"🐾 Fresh tracks! {subject} wandered into {location}.",
	"☕ {subject} pulled up a chair in {location}.",
	"🌟 Look who's here: {subject} in {location}.",
}

// Templates is a validated, immutable template set.
type Templates struct {
	list []string
}

// NewTemplates validates list. An empty list selects DefaultTemplates.
func NewTemplates(list []string) (*Templates, error) {
	if len(list) == 0 {
		list = DefaultTemplates
	}
	if err := ValidateTemplates(list); err != nil {
		return nil, err
	}
	return &Templates{list: append([]string{}, list...)}, nil
}

// ValidateTemplates checks that the set is non-empty and that every template
// carries each slot exactly once.
func ValidateTemplates(list []string) error {
	if len(list) == 0 {
		return errors.New("template set is empty")
	}
	for i, t := range list {
		if n := strings.Count(t, SlotSubject); n != 1 {
			return fmt.Errorf("template %d: want exactly one %s, got %d", i, SlotSubject, n)
		}
		if n := strings.Count(t, SlotLocation); n != 1 {
			return fmt.Errorf("template %d: want exactly one %s, got %d", i, SlotLocation, n)
		}
	}
	return nil
}

func (t *Templates) Len() int { return len(t.list) }

// Render fills a uniformly chosen template. Values are HTML-escaped.
func (t *Templates) Render(subject, location string) string {
	return t.RenderAt(rand.IntN(len(t.list)), subject, location)
}

// RenderAt fills template i.
func (t *Templates) RenderAt(i int, subject, location string) string {
	r := strings.NewReplacer(
		SlotSubject, "<b>"+html.EscapeString(subject)+"</b>",
		SlotLocation, "<b>"+html.EscapeString(location)+"</b>",
	)
	return r.Replace(t.list[i])
}
