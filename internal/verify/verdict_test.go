package verify

import "testing"

func conf(v float64) *float64 { return &v }

func TestVerdict(t *testing.T) {
	cases := []struct {
		name string
		j    Judgment
		want bool
	}{
		{"no face", Judgment{FaceDetected: false}, false},
		{"no face with high confidence", Judgment{FaceDetected: false, Confidence: conf(0.99)}, false},
		{"face below threshold", Judgment{FaceDetected: true, Confidence: conf(0.4)}, false},
		{"face at threshold", Judgment{FaceDetected: true, Confidence: conf(0.5)}, true},
		{"face above threshold", Judgment{FaceDetected: true, Confidence: conf(0.93)}, true},
		{"face without score", Judgment{FaceDetected: true}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Verdict(tc.j, DefaultConfidenceThreshold); got != tc.want {
				t.Errorf("Verdict(%+v) = %v, want %v", tc.j, got, tc.want)
			}
		})
	}
}

func TestVerdictCustomThreshold(t *testing.T) {
	j := Judgment{FaceDetected: true, Confidence: conf(0.6)}
	if Verdict(j, 0.8) {
		t.Error("0.6 must fail a 0.8 threshold")
	}
	if !Verdict(j, 0.6) {
		t.Error("0.6 must pass a 0.6 threshold")
	}
}
