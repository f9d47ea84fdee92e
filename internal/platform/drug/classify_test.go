package drug

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		wantClass string
		wantArea  string
	}{
		{"LOSARTAN POTASSIUM 50MG", "ARB", "hypertension"},
		{"Lisinopril 10mg Tab", "ACE inhibitor", "hypertension"},
		{"AMLODIPINE BESYLATE 5MG", "calcium channel blocker", "hypertension"},
		{"METFORMIN HCL ER 500MG", "biguanide", "diabetes"},
		{"JARDIANCE 25MG TABLET", "SGLT2 inhibitor", "diabetes"},
		{"OZEMPIC 1MG/DOSE PEN", "GLP-1 agonist", "diabetes"},
		{"ATORVASTATIN CALCIUM 40 MG", "statin", "cholesterol"},
		{"ELIQUIS 5MG", "DOAC", "anticoagulation"},
		{"FLUTICASONE-SALMETEROL 250-50", "ICS-LABA", "respiratory"},
		{"ALBUTEROL SULFATE HFA", "SABA", "respiratory"},
		{"SERTRALINE 100MG", "SSRI", "depression"},
		{"OMEPRAZOLE DR 20MG CAP", "proton pump inhibitor", "gerd"},
		{"LEVOTHYROXINE SODIUM 75MCG", "thyroid hormone", "thyroid"},
	}

	for _, tt := range tests {
		c, ok := Classify(tt.name)
		if !ok {
			t.Errorf("Classify(%q): expected match", tt.name)
			continue
		}
		if c.Name != tt.wantClass {
			t.Errorf("Classify(%q): expected class %q, got %q", tt.name, tt.wantClass, c.Name)
		}
		if c.Area != tt.wantArea {
			t.Errorf("Classify(%q): expected area %q, got %q", tt.name, tt.wantArea, c.Area)
		}
	}
}

func TestClassify_ComboBeforeIngredient(t *testing.T) {
	// A fluticasone/salmeterol combo must classify as ICS-LABA, not fall
	// through to the bare inhaled corticosteroid pattern.
	c, ok := Classify("FLUTICASONE/SALMETEROL 113-14MCG")
	if !ok || c.Name != "ICS-LABA" {
		t.Errorf("expected ICS-LABA, got %+v (ok=%v)", c, ok)
	}

	c, ok = Classify("FLUTICASONE PROPIONATE 110MCG INH")
	if !ok || c.Name != "inhaled corticosteroid" {
		t.Errorf("expected inhaled corticosteroid, got %+v (ok=%v)", c, ok)
	}
}

func TestClassify_NoMatch(t *testing.T) {
	if _, ok := Classify("MYSTERY COMPOUND 12"); ok {
		t.Error("expected no classification for unknown drug")
	}
	if _, ok := Classify(""); ok {
		t.Error("expected no classification for empty name")
	}
}

func TestClassesInArea(t *testing.T) {
	classes := ClassesInArea("hypertension")
	want := map[string]bool{
		"ARB": true, "ACE inhibitor": true, "calcium channel blocker": true,
		"beta blocker": true, "thiazide diuretic": true,
	}
	found := make(map[string]bool)
	for _, c := range classes {
		found[c] = true
	}
	for name := range want {
		if !found[name] {
			t.Errorf("expected class %q in hypertension area", name)
		}
	}
}

func TestInferConditions(t *testing.T) {
	history := []string{
		"LOSARTAN POTASSIUM 100MG",
		"HYDROCHLOROTHIAZIDE 25MG",
		"METFORMIN HCL 1000MG",
		"ATORVASTATIN 20MG",
		"MYSTERY COMPOUND 12",
	}

	conditions := InferConditions(history)
	found := make(map[string]bool)
	for _, c := range conditions {
		found[c] = true
	}

	for _, want := range []string{"Hypertension", "Diabetes", "Hyperlipidemia"} {
		if !found[want] {
			t.Errorf("expected condition %q, got %v", want, conditions)
		}
	}
	if len(conditions) != 3 {
		t.Errorf("expected 3 conditions, got %v", conditions)
	}
}

func TestInferConditions_Deduplicates(t *testing.T) {
	// Two hypertension drugs must yield one Hypertension condition.
	conditions := InferConditions([]string{"LISINOPRIL 10MG", "AMLODIPINE 5MG"})
	if len(conditions) != 1 || conditions[0] != "Hypertension" {
		t.Errorf("expected [Hypertension], got %v", conditions)
	}
}
