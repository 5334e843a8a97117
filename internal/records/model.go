package records

import "time"

// Profile holds patient demographics plus aggregate counts across the
// clinical tables. Built by a single grouped query.
type Profile struct {
	SubjectID           int64
	Gender              *string
	AnchorAge           *int
	AnchorYearGroup     *string
	TotalAdmissions     int
	UniqueDiagnoses     int
	ICUStays            int
	UniqueMedications   int
	MostRecentAdmission *time.Time
	Status              string // "Living" or "Deceased"
}

// Admission is one hospital admission, left-joined with its DRG
// classification when present.
type Admission struct {
	HadmID            int64
	AdmitTime         *time.Time
	DischTime         *time.Time
	AdmissionType     *string
	AdmissionLocation *string
	DischargeLocation *string
	Insurance         *string
	Race              *string
	LengthOfStayDays  *float64
	DRGCode           *string
	DRGDescription    *string
	DRGSeverity       *int
	DRGMortality      *int
}

// Diagnosis is one ICD code grouped across admissions, ranked by
// occurrence count then clinical sequence.
type Diagnosis struct {
	ICDCode         string
	ICDVersion      int
	LongTitle       *string
	SeqNum          *int
	OccurrenceCount int
	MostRecent      *time.Time
}

type Procedure struct {
	ICDCode         string
	LongTitle       *string
	ChartDate       *time.Time
	OccurrenceCount int
}

// LabResult carries the abnormal flag and reference range so the
// assembler never has to re-derive them.
type LabResult struct {
	ChartTime     *time.Time
	Label         *string
	Fluid         *string
	Category      *string
	Value         *string
	ValueNum      *float64
	ValueUOM      *string
	Flag          *string
	RefRangeLower *float64
	RefRangeUpper *float64
}

type Medication struct {
	Drug        string
	DrugType    *string
	Route       *string
	StartTime   *time.Time
	StopTime    *time.Time
	DoseValRx   *string
	DoseUnitRx  *string
	FormRx      *string
	GSN         *string
	NDC         *string
}

// MedAdministration is one eMAR row: what was actually given, not just
// what was prescribed.
type MedAdministration struct {
	ChartTime    *time.Time
	Medication   string
	EventText    *string
	ScheduleTime *time.Time
}

type ProviderOrder struct {
	POEID           string
	OrderTime       *time.Time
	OrderType       *string
	OrderSubtype    *string
	TransactionType *string
	ProviderID      *string
	OrderStatus     *string
}

type ICUStay struct {
	StayID           int64
	HadmID           int64
	FirstCareUnit    *string
	LastCareUnit     *string
	InTime           *time.Time
	OutTime          *time.Time
	LengthOfStayDays *float64
}

// Vital is one charted ICU observation (vitals, labs, respiratory).
type Vital struct {
	ChartTime *time.Time
	Label     *string
	Category  *string
	Value     *string
	ValueNum  *float64
	ValueUOM  *string
	Status    string // "Warning" or "Normal"
}

// ICUInput is one fluid or medication input event.
type ICUInput struct {
	StartTime         *time.Time
	EndTime           *time.Time
	Label             *string
	Amount            *float64
	AmountUOM         *string
	Rate              *float64
	RateUOM           *string
	OrderCategoryName *string
	StatusDescription *string
}

// PatientRecord bundles every bounded read for one subject. It is
// assembled once per session and treated as immutable afterwards.
type PatientRecord struct {
	SubjectID          int64
	Profile            *Profile
	Admissions         []Admission
	Diagnoses          []Diagnosis
	Procedures         []Procedure
	Labs               []LabResult
	Medications        []Medication
	MedAdministrations []MedAdministration
	Orders             []ProviderOrder
	ICUStays           []ICUStay
	Vitals             []Vital
	ICUInputs          []ICUInput
}
