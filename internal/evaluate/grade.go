package evaluate

// Scale is the fine-grained grade ladder, lowest first.
var Scale = []string{"F", "D", "C", "C+", "B-", "B", "B+", "A-", "A", "A+"}

// LetterGrade maps a 0-100 baseline score to a coarse letter.
func LetterGrade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// ShiftGrade moves grade by steps along Scale, clamping at F and A+.
// Grades not on the scale come back unchanged.
func ShiftGrade(grade string, steps int) string {
	idx := gradeIndex(grade)
	if idx < 0 {
		return grade
	}
	idx = min(len(Scale)-1, max(0, idx+steps))
	return Scale[idx]
}

func gradeIndex(grade string) int {
	for i, g := range Scale {
		if g == grade {
			return i
		}
	}
	return -1
}
