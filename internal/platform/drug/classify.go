// Package drug maps free-text drug names to therapeutic classes and infers
// patient chronic conditions from dispensing history. Classification is a
// pure lookup against ordered regular-expression tables; the first matching
// pattern wins, so more specific patterns must precede broader ones.
package drug

import (
	"regexp"
	"strings"
)

// Class describes a therapeutic class and the broader therapeutic area it
// belongs to (e.g. class "ARB" in area "hypertension").
type Class struct {
	Name string
	Area string
}

type classPattern struct {
	re    *regexp.Regexp
	class Class
}

// The table is ordered: combination products and specific subclasses come
// before the broad ingredient families they would otherwise be swallowed by.
var classTable = []classPattern{
	// Hypertension
	{regexp.MustCompile(`(?i)\b(LOSARTAN|VALSARTAN|OLMESARTAN|IRBESARTAN|CANDESARTAN|TELMISARTAN|AZILSARTAN|EPROSARTAN)`), Class{"ARB", "hypertension"}},
	{regexp.MustCompile(`(?i)\b(LISINOPRIL|ENALAPRIL|RAMIPRIL|BENAZEPRIL|QUINAPRIL|FOSINOPRIL|PERINDOPRIL|CAPTOPRIL|TRANDOLAPRIL|MOEXIPRIL)`), Class{"ACE inhibitor", "hypertension"}},
	{regexp.MustCompile(`(?i)\b(AMLODIPINE|NIFEDIPINE|FELODIPINE|NICARDIPINE|DILTIAZEM|VERAPAMIL|ISRADIPINE|NISOLDIPINE)`), Class{"calcium channel blocker", "hypertension"}},
	{regexp.MustCompile(`(?i)\b(METOPROLOL|ATENOLOL|CARVEDILOL|BISOPROLOL|PROPRANOLOL|NEBIVOLOL|LABETALOL|NADOLOL)`), Class{"beta blocker", "hypertension"}},
	{regexp.MustCompile(`(?i)\b(HYDROCHLOROTHIAZIDE|HCTZ|CHLORTHALIDONE|INDAPAMIDE|METOLAZONE)`), Class{"thiazide diuretic", "hypertension"}},
	{regexp.MustCompile(`(?i)\b(FUROSEMIDE|TORSEMIDE|BUMETANIDE)`), Class{"loop diuretic", "hypertension"}},
	{regexp.MustCompile(`(?i)\b(SPIRONOLACTONE|EPLERENONE|TRIAMTERENE|AMILORIDE)`), Class{"potassium-sparing diuretic", "hypertension"}},
	{regexp.MustCompile(`(?i)\b(CLONIDINE|GUANFACINE|METHYLDOPA)`), Class{"central alpha agonist", "hypertension"}},

	// Diabetes
	{regexp.MustCompile(`(?i)\b(METFORMIN|GLUCOPHAGE)`), Class{"biguanide", "diabetes"}},
	{regexp.MustCompile(`(?i)\b(GLIPIZIDE|GLYBURIDE|GLIMEPIRIDE)`), Class{"sulfonylurea", "diabetes"}},
	{regexp.MustCompile(`(?i)\b(SITAGLIPTIN|SAXAGLIPTIN|LINAGLIPTIN|ALOGLIPTIN|JANUVIA|TRADJENTA|ONGLYZA)`), Class{"DPP-4 inhibitor", "diabetes"}},
	{regexp.MustCompile(`(?i)\b(EMPAGLIFLOZIN|DAPAGLIFLOZIN|CANAGLIFLOZIN|ERTUGLIFLOZIN|JARDIANCE|FARXIGA|INVOKANA)`), Class{"SGLT2 inhibitor", "diabetes"}},
	{regexp.MustCompile(`(?i)\b(SEMAGLUTIDE|LIRAGLUTIDE|DULAGLUTIDE|EXENATIDE|TIRZEPATIDE|OZEMPIC|TRULICITY|VICTOZA|MOUNJARO|RYBELSUS)`), Class{"GLP-1 agonist", "diabetes"}},
	{regexp.MustCompile(`(?i)\b(PIOGLITAZONE|ROSIGLITAZONE|ACTOS)`), Class{"thiazolidinedione", "diabetes"}},
	{regexp.MustCompile(`(?i)\b(INSULIN|LANTUS|HUMALOG|NOVOLOG|LEVEMIR|TRESIBA|BASAGLAR|TOUJEO|HUMULIN|NOVOLIN)`), Class{"insulin", "diabetes"}},

	// Cholesterol
	{regexp.MustCompile(`(?i)\b(ATORVASTATIN|ROSUVASTATIN|SIMVASTATIN|PRAVASTATIN|LOVASTATIN|PITAVASTATIN|FLUVASTATIN|CRESTOR|LIPITOR)`), Class{"statin", "cholesterol"}},
	{regexp.MustCompile(`(?i)\b(EZETIMIBE|ZETIA)`), Class{"cholesterol absorption inhibitor", "cholesterol"}},
	{regexp.MustCompile(`(?i)\b(FENOFIBRATE|GEMFIBROZIL|FENOFIBRIC)`), Class{"fibrate", "cholesterol"}},
	{regexp.MustCompile(`(?i)\b(ICOSAPENT|VASCEPA|OMEGA-3|LOVAZA)`), Class{"omega-3", "cholesterol"}},

	// Anticoagulation / antiplatelet
	{regexp.MustCompile(`(?i)\b(APIXABAN|RIVAROXABAN|DABIGATRAN|EDOXABAN|ELIQUIS|XARELTO|PRADAXA)`), Class{"DOAC", "anticoagulation"}},
	{regexp.MustCompile(`(?i)\b(WARFARIN|COUMADIN)`), Class{"vitamin K antagonist", "anticoagulation"}},
	{regexp.MustCompile(`(?i)\b(CLOPIDOGREL|PRASUGREL|TICAGRELOR|PLAVIX|BRILINTA)`), Class{"antiplatelet", "anticoagulation"}},

	// Respiratory
	{regexp.MustCompile(`(?i)\b(FLUTICASONE[ -/]*(SALMETEROL|VILANTEROL)|BUDESONIDE[ -/]*FORMOTEROL|ADVAIR|SYMBICORT|BREO|DULERA|WIXELA)`), Class{"ICS-LABA", "respiratory"}},
	{regexp.MustCompile(`(?i)\b(TIOTROPIUM|UMECLIDINIUM|SPIRIVA|INCRUSE|ANORO|TRELEGY|STIOLTO)`), Class{"LAMA", "respiratory"}},
	{regexp.MustCompile(`(?i)\b(ALBUTEROL|LEVALBUTEROL|VENTOLIN|PROAIR|PROVENTIL|XOPENEX)`), Class{"SABA", "respiratory"}},
	{regexp.MustCompile(`(?i)\b(MONTELUKAST|ZAFIRLUKAST|SINGULAIR)`), Class{"leukotriene modifier", "respiratory"}},
	{regexp.MustCompile(`(?i)\b(BUDESONIDE|FLUTICASONE|MOMETASONE|BECLOMETHASONE|CICLESONIDE|PULMICORT|FLOVENT|QVAR|ARNUITY)`), Class{"inhaled corticosteroid", "respiratory"}},

	// Mental health
	{regexp.MustCompile(`(?i)\b(SERTRALINE|FLUOXETINE|ESCITALOPRAM|CITALOPRAM|PAROXETINE|FLUVOXAMINE|ZOLOFT|PROZAC|LEXAPRO|CELEXA)`), Class{"SSRI", "depression"}},
	{regexp.MustCompile(`(?i)\b(DULOXETINE|VENLAFAXINE|DESVENLAFAXINE|LEVOMILNACIPRAN|CYMBALTA|EFFEXOR|PRISTIQ)`), Class{"SNRI", "depression"}},
	{regexp.MustCompile(`(?i)\b(BUPROPION|WELLBUTRIN|MIRTAZAPINE|REMERON|TRAZODONE)`), Class{"atypical antidepressant", "depression"}},

	// GI
	{regexp.MustCompile(`(?i)\b(OMEPRAZOLE|ESOMEPRAZOLE|PANTOPRAZOLE|LANSOPRAZOLE|RABEPRAZOLE|DEXLANSOPRAZOLE|PRILOSEC|NEXIUM|PROTONIX|PREVACID|DEXILANT)`), Class{"proton pump inhibitor", "gerd"}},
	{regexp.MustCompile(`(?i)\b(FAMOTIDINE|CIMETIDINE|NIZATIDINE|PEPCID)`), Class{"H2 blocker", "gerd"}},

	// Thyroid
	{regexp.MustCompile(`(?i)\b(LEVOTHYROXINE|SYNTHROID|LIOTHYRONINE|ARMOUR THYROID|NP THYROID|UNITHROID|TIROSINT)`), Class{"thyroid hormone", "thyroid"}},

	// Pain / inflammation
	{regexp.MustCompile(`(?i)\b(GABAPENTIN|PREGABALIN|LYRICA|NEURONTIN)`), Class{"gabapentinoid", "neuropathic pain"}},
	{regexp.MustCompile(`(?i)\b(MELOXICAM|IBUPROFEN|NAPROXEN|DICLOFENAC|CELECOXIB|INDOMETHACIN|ETODOLAC|NABUMETONE)`), Class{"NSAID", "pain"}},

	// Bone health
	{regexp.MustCompile(`(?i)\b(ALENDRONATE|RISEDRONATE|IBANDRONATE|ZOLEDRONIC|FOSAMAX|ACTONEL|BONIVA)`), Class{"bisphosphonate", "osteoporosis"}},
}

// conditionByArea maps therapeutic areas to the chronic condition they imply.
// Not every area implies a chronic condition (pain, gerd are often acute).
var conditionByArea = map[string]string{
	"hypertension":     "Hypertension",
	"diabetes":         "Diabetes",
	"cholesterol":      "Hyperlipidemia",
	"anticoagulation":  "Anticoagulation Therapy",
	"respiratory":      "Asthma/COPD",
	"depression":       "Depression/Anxiety",
	"thyroid":          "Hypothyroidism",
	"osteoporosis":     "Osteoporosis",
	"neuropathic pain": "Neuropathic Pain",
}

// Classify maps a free-text drug name to its therapeutic class. The second
// return value is false when no pattern matches.
func Classify(name string) (Class, bool) {
	if strings.TrimSpace(name) == "" {
		return Class{}, false
	}
	for _, p := range classTable {
		if p.re.MatchString(name) {
			return p.class, true
		}
	}
	return Class{}, false
}

// ClassesInArea returns the names of every class belonging to a therapeutic
// area. Used by the discovery scanner to widen an alternatives search from a
// single class to the whole area.
func ClassesInArea(area string) []string {
	seen := make(map[string]bool)
	var classes []string
	for _, p := range classTable {
		if p.class.Area == area && !seen[p.class.Name] {
			seen[p.class.Name] = true
			classes = append(classes, p.class.Name)
		}
	}
	return classes
}

// InferConditions derives a patient's chronic conditions from their recent
// drug names. A condition is inferred when any drug in the history maps to a
// therapeutic area with a known chronic condition. The result is de-duplicated
// and order-stable with respect to the classification table.
func InferConditions(drugNames []string) []string {
	areas := make(map[string]bool)
	for _, name := range drugNames {
		if c, ok := Classify(name); ok {
			areas[c.Area] = true
		}
	}

	seen := make(map[string]bool)
	var conditions []string
	for _, p := range classTable {
		if !areas[p.class.Area] {
			continue
		}
		cond, ok := conditionByArea[p.class.Area]
		if !ok || seen[cond] {
			continue
		}
		seen[cond] = true
		conditions = append(conditions, cond)
	}
	return conditions
}
