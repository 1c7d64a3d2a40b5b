package sanitizer

import (
	"strings"
	"unicode"

	"rsvp/pkg/model"
)

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

func trimAndLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// stripInvisible drops control and format characters (zero-width spaces,
// BOMs, direction marks) that make two identifiers look equal but differ.
func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

var identifierPipeline = Pipeline{
	stripInvisible,
	strings.TrimSpace,
}

func SanitizeIdentifier(input string) string {
	return identifierPipeline.Apply(input)
}

func SanitizeStatus(status model.EventStatus) model.EventStatus {
	return model.EventStatus(trimAndLower(string(status)))
}

func SanitizeReservationRequest(req *model.ReservationRequest) {
	req.EventID = SanitizeIdentifier(req.EventID)
	req.RequesterID = SanitizeIdentifier(req.RequesterID)
}

func SanitizeLifecycleRequest(req *model.LifecycleRequest) {
	req.EventID = SanitizeIdentifier(req.EventID)
	req.Status = SanitizeStatus(req.Status)
}
