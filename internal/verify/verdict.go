package verify

// DefaultConfidenceThreshold is the minimum confidence score a detection
// must carry to count as verified. Classifiers that report no score pass on
// detection alone.
const DefaultConfidenceThreshold = 0.5

// Verdict reduces a classifier judgment to verified / not-verified. A face
// must be detected; when the classifier reports a confidence score it must
// meet the threshold, an absent score does not fail the check.
func Verdict(j Judgment, threshold float64) bool {
	if !j.FaceDetected {
		return false
	}
	if j.Confidence != nil && *j.Confidence < threshold {
		return false
	}
	return true
}
