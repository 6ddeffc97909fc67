package evaluate

import "testing"

func TestLetterGrade(t *testing.T) {
	cases := map[int]string{100: "A", 90: "A", 89: "B", 80: "B", 79: "C", 70: "C", 69: "D", 60: "D", 59: "F", 0: "F"}
	for score, want := range cases {
		if got := LetterGrade(score); got != want {
			t.Errorf("LetterGrade(%d): expected %s, got %s", score, want, got)
		}
	}
}

func TestShiftGrade_Clamps(t *testing.T) {
	if got := ShiftGrade("F", -1); got != "F" {
		t.Errorf("Expected F to stay F, got %s", got)
	}
	if got := ShiftGrade("A+", 1); got != "A+" {
		t.Errorf("Expected A+ to stay A+, got %s", got)
	}
	if got := ShiftGrade("A", 1); got != "A+" {
		t.Errorf("Expected A+, got %s", got)
	}
	if got := ShiftGrade("B", -1); got != "B-" {
		t.Errorf("Expected B-, got %s", got)
	}
}

func TestShiftGrade_UnknownUnchanged(t *testing.T) {
	if got := ShiftGrade("E", 1); got != "E" {
		t.Errorf("Expected unknown grade to pass through, got %s", got)
	}
}

func TestShiftGrade_Monotonic(t *testing.T) {
	for _, g := range Scale {
		prev := -1
		for _, steps := range []int{-1, 0, 1} {
			idx := gradeIndex(ShiftGrade(g, steps))
			if idx < prev {
				t.Errorf("Grade %s decreased when shifting by %d", g, steps)
			}
			prev = idx
		}
	}
}
