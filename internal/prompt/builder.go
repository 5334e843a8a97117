// Package prompt serializes a patient record and conversation memory
// into one deterministic, model-readable text block.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/medquery/assistant/internal/records"
)

const (
	// titleMax is the truncation length for rendered titles and
	// descriptions.
	titleMax = 70

	divider = "==============================================================================="
)

// isoDatePattern matches ISO-8601-shaped calendar dates. This is a
// bounded heuristic: it misses non-ISO formats and can over-match any
// digit run shaped like a date.
var isoDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// FollowUp carries the immediately preceding exchange when the current
// question is a follow-up.
type FollowUp struct {
	Question string
	Answer   string
}

// BuildPatientContext renders the full clinical record as named
// sections in a fixed order. Sections with no underlying rows are
// omitted entirely; missing values inside a section render as explicit
// "Unknown"/"N/A" tokens so the model never has to infer absence from
// a blank field.
func BuildPatientContext(rec *records.PatientRecord) string {
	var b strings.Builder

	b.WriteString("\n" + divider + "\n")
	fmt.Fprintf(&b, "PATIENT CLINICAL RECORD (Subject ID: %d)\n", rec.SubjectID)
	b.WriteString(divider + "\n\n")

	writeProfile(&b, rec.Profile)
	writeAdmissions(&b, rec.Admissions)
	writeDiagnoses(&b, rec.Diagnoses)
	writeProcedures(&b, rec.Procedures)
	writeLabs(&b, rec.Labs)
	writeMedications(&b, rec.Medications)
	writeMedAdministrations(&b, rec.MedAdministrations)
	writeOrders(&b, rec.Orders)
	writeICUStays(&b, rec.ICUStays, rec.Vitals, rec.ICUInputs)

	b.WriteString(divider + "\n")
	return b.String()
}

// Build assembles the final prompt: optional follow-up block, the full
// patient context, and the literal current question at the end.
func Build(patientContext string, prev *FollowUp, question string) string {
	var b strings.Builder

	if prev != nil {
		b.WriteString(divider + "\n")
		b.WriteString("CONVERSATION CONTEXT (User is asking a follow-up question)\n")
		b.WriteString(divider + "\n\n")
		fmt.Fprintf(&b, "Previous Question: %s\n\n", prev.Question)
		fmt.Fprintf(&b, "Previous Answer:\n%s\n\n", prev.Answer)
		b.WriteString(divider + "\n\n")

		if dates := ExtractDates(prev.Answer); len(dates) > 0 {
			fmt.Fprintf(&b, "IMPORTANT: The previous answer mentioned dates: %s\n", strings.Join(dates, ", "))
			b.WriteString("The current question likely refers to events on or around these dates.\n")
			b.WriteString("CHECK THE PATIENT'S MEDICATION DATA BELOW FOR THESE DATES.\n\n")
		}
	}

	b.WriteString(patientContext)

	b.WriteString("\n" + divider + "\n")
	fmt.Fprintf(&b, "CURRENT QUESTION: %s\n", question)
	b.WriteString(divider + "\n\n")

	if prev != nil {
		b.WriteString("CRITICAL INSTRUCTIONS:\n")
		b.WriteString("- This is a FOLLOW-UP question referring to the previous conversation\n")
		b.WriteString("- Words like 'this', 'that', 'said procedure' refer to information from the previous answer\n")
		b.WriteString("- USE THE PATIENT'S ACTUAL MEDICATION DATA shown in the clinical record above\n")
		b.WriteString("- DO NOT say 'no information available' if medications are listed in the patient record\n")
		b.WriteString("- Look at PRESCRIBED MEDICATIONS and MEDICATION ADMINISTRATION RECORDS sections\n")
	}

	return b.String()
}

// ExtractDates scans text for ISO-8601-shaped dates, deduplicated in
// order of first appearance.
func ExtractDates(text string) []string {
	matches := isoDatePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func writeProfile(b *strings.Builder, p *records.Profile) {
	if p == nil {
		return
	}
	b.WriteString("DEMOGRAPHICS & SUMMARY:\n")
	fmt.Fprintf(b, "- Gender: %s\n", strOrUnknown(p.Gender))
	if p.AnchorAge != nil {
		fmt.Fprintf(b, "- Age: %d years\n", *p.AnchorAge)
	} else {
		b.WriteString("- Age: Unknown\n")
	}
	fmt.Fprintf(b, "- Year Group: %s\n", strOrUnknown(p.AnchorYearGroup))
	fmt.Fprintf(b, "- Status: %s\n", p.Status)
	fmt.Fprintf(b, "- Total Hospital Admissions: %d\n", p.TotalAdmissions)
	fmt.Fprintf(b, "- ICU Stays: %d\n", p.ICUStays)
	fmt.Fprintf(b, "- Unique Diagnoses: %d\n", p.UniqueDiagnoses)
	fmt.Fprintf(b, "- Unique Medications: %d\n\n", p.UniqueMedications)
}

func writeAdmissions(b *strings.Builder, admissions []records.Admission) {
	if len(admissions) == 0 {
		return
	}
	b.WriteString("RECENT HOSPITAL ADMISSIONS:\n")
	for i, adm := range admissions {
		los := "Ongoing"
		if adm.LengthOfStayDays != nil {
			los = fmt.Sprintf("%.1f days", *adm.LengthOfStayDays)
		}
		drgInfo := ""
		if adm.DRGCode != nil {
			drgInfo = fmt.Sprintf("\n   DRG: %s - %s", *adm.DRGCode, strOrNA(adm.DRGDescription))
			if adm.DRGSeverity != nil {
				drgInfo += fmt.Sprintf(" (Severity: %d, Mortality Risk: %s)", *adm.DRGSeverity, intOrUnknown(adm.DRGMortality))
			}
		}
		fmt.Fprintf(b, "%d. %s admission on %s\n", i+1, strOrUnknown(adm.AdmissionType), dateOrUnknown(adm.AdmitTime))
		fmt.Fprintf(b, "   Location: %s -> %s\n", strOrUnknown(adm.AdmissionLocation), strOrUnknown(adm.DischargeLocation))
		fmt.Fprintf(b, "   LOS: %s, Insurance: %s%s\n", los, strOrUnknown(adm.Insurance), drgInfo)
	}
	b.WriteString("\n")
}

func writeDiagnoses(b *strings.Builder, diagnoses []records.Diagnosis) {
	if len(diagnoses) == 0 {
		return
	}
	b.WriteString("DIAGNOSES (ICD Codes with Descriptions):\n")
	for i, d := range diagnoses {
		priority := ""
		if d.SeqNum != nil {
			priority = fmt.Sprintf(" [Seq %d]", *d.SeqNum)
		}
		fmt.Fprintf(b, "%d. %s%s - %s (%dx)\n", i+1, d.ICDCode, priority, truncateOrNA(d.LongTitle), d.OccurrenceCount)
	}
	b.WriteString("\n")
}

func writeProcedures(b *strings.Builder, procedures []records.Procedure) {
	if len(procedures) == 0 {
		return
	}
	b.WriteString("PROCEDURES PERFORMED:\n")
	for i, p := range procedures {
		fmt.Fprintf(b, "%d. %s - %s (Date: %s)\n", i+1, p.ICDCode, truncateOrNA(p.LongTitle), dateOrUnknown(p.ChartDate))
	}
	b.WriteString("\n")
}

func writeLabs(b *strings.Builder, labs []records.LabResult) {
	if len(labs) == 0 {
		return
	}
	b.WriteString("RECENT LABORATORY RESULTS:\n")
	for i, lab := range labs {
		label := "Lab Test"
		if lab.Label != nil {
			label = *lab.Label
		}
		category := ""
		if lab.Category != nil {
			category = fmt.Sprintf(" [%s]", *lab.Category)
		}
		value := "N/A"
		if lab.Value != nil {
			value = *lab.Value
		} else if lab.ValueNum != nil {
			value = fmt.Sprintf("%g", *lab.ValueNum)
		}
		unit := ""
		if lab.ValueUOM != nil {
			unit = " " + *lab.ValueUOM
		}
		flagInfo := ""
		if lab.Flag != nil && strings.EqualFold(*lab.Flag, "abnormal") {
			flagInfo = " ABNORMAL"
			if lab.RefRangeLower != nil || lab.RefRangeUpper != nil {
				flagInfo += fmt.Sprintf(" (Ref: %s-%s)", floatOrQ(lab.RefRangeLower), floatOrQ(lab.RefRangeUpper))
			}
		}
		fmt.Fprintf(b, "%d. %s%s: %s%s%s (%s)\n", i+1, label, category, value, unit, flagInfo, timeOrUnknown(lab.ChartTime))
	}
	b.WriteString("\n")
}

func writeMedications(b *strings.Builder, meds []records.Medication) {
	if len(meds) == 0 {
		return
	}
	b.WriteString("PRESCRIBED MEDICATIONS:\n")
	for i, m := range meds {
		dose := ""
		if m.DoseValRx != nil {
			dose = " " + *m.DoseValRx
			if m.DoseUnitRx != nil {
				dose += " " + *m.DoseUnitRx
			}
		}
		route := ""
		if m.Route != nil {
			route = " via " + *m.Route
		}
		drugType := ""
		if m.DrugType != nil {
			drugType = fmt.Sprintf(" [%s]", *m.DrugType)
		}
		fmt.Fprintf(b, "%d. %s%s%s%s (Started: %s)\n", i+1, m.Drug, dose, route, drugType, dateOrUnknown(m.StartTime))
	}
	b.WriteString("\n")
}

func writeMedAdministrations(b *strings.Builder, admins []records.MedAdministration) {
	if len(admins) == 0 {
		return
	}
	b.WriteString("MEDICATION ADMINISTRATION RECORDS (eMAR):\n")
	for i, a := range admins {
		status := "Administered"
		if a.EventText != nil {
			status = *a.EventText
		}
		fmt.Fprintf(b, "%d. %s - %s (%s)\n", i+1, a.Medication, status, timeOrUnknown(a.ChartTime))
	}
	b.WriteString("\n")
}

func writeOrders(b *strings.Builder, orders []records.ProviderOrder) {
	if len(orders) == 0 {
		return
	}
	b.WriteString("PROVIDER ORDERS (POE):\n")
	for i, o := range orders {
		orderType := "Order"
		if o.OrderType != nil {
			orderType = *o.OrderType
		}
		if o.OrderSubtype != nil {
			orderType += " - " + *o.OrderSubtype
		}
		status := "Unknown"
		if o.OrderStatus != nil {
			status = *o.OrderStatus
		}
		provider := ""
		if o.ProviderID != nil {
			provider = " by " + *o.ProviderID
		}
		fmt.Fprintf(b, "%d. %s [%s]%s (%s)\n", i+1, orderType, status, provider, timeOrUnknown(o.OrderTime))
	}
	b.WriteString("\n")
}

func writeICUStays(b *strings.Builder, stays []records.ICUStay, vitals []records.Vital, inputs []records.ICUInput) {
	if len(stays) == 0 {
		return
	}
	b.WriteString("INTENSIVE CARE UNIT STAYS:\n")
	for i, s := range stays {
		los := "Ongoing"
		if s.LengthOfStayDays != nil {
			los = fmt.Sprintf("%.1f days", *s.LengthOfStayDays)
		}
		fmt.Fprintf(b, "%d. ICU Stay ID %d: %s -> %s\n", i+1, s.StayID, strOrUnknown(s.FirstCareUnit), strOrUnknown(s.LastCareUnit))
		fmt.Fprintf(b, "   Admitted: %s, LOS: %s\n", timeOrUnknown(s.InTime), los)
	}
	b.WriteString("\n")

	if len(vitals) > 0 {
		b.WriteString("   Recent ICU Vital Signs:\n")
		for _, v := range capVitals(vitals) {
			value := "N/A"
			if v.Value != nil {
				value = *v.Value
			} else if v.ValueNum != nil {
				value = fmt.Sprintf("%g", *v.ValueNum)
			}
			unit := ""
			if v.ValueUOM != nil {
				unit = " " + *v.ValueUOM
			}
			status := ""
			if v.Status == "Warning" {
				status = " [Warning]"
			}
			fmt.Fprintf(b, "   * %s: %s%s%s (%s)\n", strOrUnknown(v.Label), value, unit, status, timeOrUnknown(v.ChartTime))
		}
		b.WriteString("\n")
	}

	if len(inputs) > 0 {
		b.WriteString("   ICU Fluid/Medication Inputs:\n")
		for _, in := range capInputs(inputs) {
			amount := ""
			if in.Amount != nil {
				amount = fmt.Sprintf("%g", *in.Amount)
				if in.AmountUOM != nil {
					amount += " " + *in.AmountUOM
				}
			}
			rate := ""
			if in.Rate != nil {
				rate = fmt.Sprintf(" @ %g", *in.Rate)
				if in.RateUOM != nil {
					rate += " " + *in.RateUOM
				}
			}
			category := "Unknown"
			if in.OrderCategoryName != nil {
				category = *in.OrderCategoryName
			}
			fmt.Fprintf(b, "   * %s (%s): %s%s (Started: %s)\n", strOrUnknown(in.Label), category, amount, rate, timeOrUnknown(in.StartTime))
		}
		b.WriteString("\n")
	}
}

// The nested ICU lists are capped tighter than their query bounds to
// keep the ICU section readable.
func capVitals(vitals []records.Vital) []records.Vital {
	if len(vitals) > 10 {
		return vitals[:10]
	}
	return vitals
}

func capInputs(inputs []records.ICUInput) []records.ICUInput {
	if len(inputs) > 8 {
		return inputs[:8]
	}
	return inputs
}

// Truncate shortens text beyond the rendering limit with an ellipsis
// marker. The limit counts characters, not bytes, so a multi-byte rune
// at the boundary is never split.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func truncateOrNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return Truncate(*s, titleMax)
}

func strOrUnknown(s *string) string {
	if s == nil || *s == "" {
		return "Unknown"
	}
	return *s
}

func strOrNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

func intOrUnknown(i *int) string {
	if i == nil {
		return "Unknown"
	}
	return fmt.Sprintf("%d", *i)
}

func floatOrQ(f *float64) string {
	if f == nil {
		return "?"
	}
	return fmt.Sprintf("%g", *f)
}

func dateOrUnknown(t *time.Time) string {
	if t == nil {
		return "Unknown"
	}
	return t.Format("2006-01-02")
}

func timeOrUnknown(t *time.Time) string {
	if t == nil {
		return "Unknown"
	}
	return t.Format("2006-01-02 15:04")
}
