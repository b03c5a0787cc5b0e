package sxmfile

import (
	"strings"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// Header field names the classifier consumes.
const (
	fieldFeedbackMode = "FeedbackMode"
	fieldZOffset      = "ZOffset"
	fieldZOffsetUnit  = "ZOffsetUnit"
)

// Feedback tokens. Anything outside both sets classifies as unknown.
var (
	feedbackOffTokens = map[string]bool{
		"off": true, "open": true, "disabled": true, "0": true, "false": true,
	}
	feedbackOnTokens = map[string]bool{
		"on": true, "closed": true, "enabled": true, "1": true, "true": true,
	}
)

// Classify derives the scan mode and, for constant height frames, the
// tip lift in meters, from header metadata alone. It never inspects
// sample data, so calling it twice on the same header always agrees.
//
// A frame reports a dz exactly when it classifies as constant height:
// a feedback-off frame whose z offset cannot be resolved degrades to
// unknown rather than inventing a lift of zero.
func Classify(hdr *domain.Header) (domain.ScanMode, *float64, error) {
	raw, ok := hdr.Text(fieldFeedbackMode)
	if !ok {
		return domain.ScanModeUnknown, nil, nil
	}

	switch token := strings.ToLower(strings.TrimSpace(raw)); {
	case feedbackOnTokens[token]:
		return domain.ScanModeConstantCurrent, nil, nil
	case feedbackOffTokens[token]:
		dz, ok, err := resolveZOffset(hdr)
		if err != nil {
			return domain.ScanModeUnknown, nil, err
		}
		if !ok {
			return domain.ScanModeUnknown, nil, nil
		}
		return domain.ScanModeConstantHeight, &dz, nil
	default:
		return domain.ScanModeUnknown, nil, nil
	}
}

// resolveZOffset normalizes the z offset field to meters. The unit can
// ride on the value itself ("12.5 pm") or in a separate ZOffsetUnit
// field; a bare number means meters. A value that names a unit outside
// the scale table is an UnknownUnit error, not a silent fallback.
func resolveZOffset(hdr *domain.Header) (float64, bool, error) {
	v, ok := hdr.Lookup(fieldZOffset)
	if !ok {
		return 0, false, nil
	}

	switch v.Kind {
	case domain.HeaderKindQuantity:
		return v.SI, true, nil
	case domain.HeaderKindNumber:
		if unit, ok := hdr.Text(fieldZOffsetUnit); ok {
			factor, _, err := SIFactor(unit)
			if err != nil {
				return 0, false, err
			}
			return v.Number * factor, true, nil
		}
		return v.Number, true, nil
	default:
		// A text field shaped like "<number> <token>" claims to be a
		// quantity whose unit failed to resolve during header parsing.
		if token, ok := quantityClaim(v.Raw); ok {
			return 0, false, errs.UnknownUnit(token)
		}
		return 0, false, nil
	}
}

// ClassifyFrame applies Classify to a decoded frame in place.
func ClassifyFrame(frame *domain.ScanFrame) error {
	mode, dz, err := Classify(frame.Header)
	if err != nil {
		return err
	}
	frame.Mode = mode
	frame.DZ = dz
	return nil
}
