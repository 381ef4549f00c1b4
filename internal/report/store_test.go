package report

import "testing"

func TestValidReason(t *testing.T) {
	for _, reason := range []string{ReasonHarassment, ReasonSpam, ReasonInappropriate, ReasonUnderage, ReasonOther} {
		if !ValidReason(reason) {
			t.Errorf("expected %q to be valid", reason)
		}
	}
	for _, reason := range []string{"", "rude", "OTHER"} {
		if ValidReason(reason) {
			t.Errorf("unexpected reason accepted: %q", reason)
		}
	}
}
