package records

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medquery/assistant/internal/shared/config"
	"github.com/medquery/assistant/internal/shared/metrics"
)

// Repository provides read-only access to the clinical schema. No
// mutation capability is exposed; the audit trail writes through its
// own repository.
type Repository struct {
	pool   *pgxpool.Pool
	limits config.RecordsConfig
}

// NewRepository creates a record store repository with per-accessor
// result bounds.
func NewRepository(pool *pgxpool.Pool, limits config.RecordsConfig) *Repository {
	return &Repository{pool: pool, limits: limits}
}

// clamp enforces a positive result bound, falling back when the
// configured value is unusable.
func clamp(limit, fallback int) int {
	if limit > 0 {
		return limit
	}
	return fallback
}

// ValidateSubject reports whether a subject identifier exists. Absence
// is reported via the boolean; an error means the store itself failed.
func (r *Repository) ValidateSubject(ctx context.Context, subjectID int64) (bool, error) {
	defer r.observe("validate_subject")()

	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE subject_id = $1`, subjectID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to validate subject %d: %w", subjectID, err)
	}
	return count > 0, nil
}

// Profile returns demographics and summary statistics for one subject.
func (r *Repository) Profile(ctx context.Context, subjectID int64) (*Profile, error) {
	defer r.observe("profile")()

	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT
			p.subject_id,
			p.gender,
			p.anchor_age,
			p.anchor_year_group,
			COUNT(DISTINCT a.hadm_id) AS total_admissions,
			COUNT(DISTINCT d.icd_code) AS unique_diagnoses,
			COUNT(DISTINCT i.stay_id) AS icu_stays,
			COUNT(DISTINCT pr.drug) AS unique_medications,
			MAX(a.admittime) AS most_recent_admission,
			CASE WHEN p.dod IS NOT NULL THEN 'Deceased' ELSE 'Living' END AS status
		FROM patients p
		LEFT JOIN admissions a ON p.subject_id = a.subject_id
		LEFT JOIN diagnoses_icd d ON p.subject_id = d.subject_id
		LEFT JOIN icustays i ON p.subject_id = i.subject_id
		LEFT JOIN prescriptions pr ON p.subject_id = pr.subject_id
		WHERE p.subject_id = $1
		GROUP BY p.subject_id, p.gender, p.anchor_age, p.anchor_year_group, p.dod
	`, subjectID).Scan(
		&p.SubjectID, &p.Gender, &p.AnchorAge, &p.AnchorYearGroup,
		&p.TotalAdmissions, &p.UniqueDiagnoses, &p.ICUStays, &p.UniqueMedications,
		&p.MostRecentAdmission, &p.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile for subject %d: %w", subjectID, err)
	}
	return &p, nil
}

// RecentAdmissions returns hospital admissions most-recent-first,
// joined with DRG severity/mortality classification when present.
func (r *Repository) RecentAdmissions(ctx context.Context, subjectID int64) ([]Admission, error) {
	defer r.observe("recent_admissions")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			a.hadm_id,
			a.admittime,
			a.dischtime,
			a.admission_type,
			a.admission_location,
			a.discharge_location,
			a.insurance,
			a.race,
			EXTRACT(EPOCH FROM (a.dischtime - a.admittime))/86400 AS los_days,
			drg.drg_code,
			drg.description,
			drg.drg_severity,
			drg.drg_mortality
		FROM admissions a
		LEFT JOIN drgcodes drg ON a.hadm_id = drg.hadm_id
		WHERE a.subject_id = $1
		ORDER BY a.admittime DESC
		LIMIT $2
	`, subjectID, clamp(r.limits.AdmissionLimit, 3))
	if err != nil {
		return nil, fmt.Errorf("failed to query admissions: %w", err)
	}
	defer rows.Close()

	var out []Admission
	for rows.Next() {
		var a Admission
		if err := rows.Scan(
			&a.HadmID, &a.AdmitTime, &a.DischTime, &a.AdmissionType,
			&a.AdmissionLocation, &a.DischargeLocation, &a.Insurance, &a.Race,
			&a.LengthOfStayDays, &a.DRGCode, &a.DRGDescription,
			&a.DRGSeverity, &a.DRGMortality,
		); err != nil {
			return nil, fmt.Errorf("failed to scan admission: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Diagnoses returns ICD diagnoses grouped by code and version, ranked
// by occurrence count descending then clinical sequence ascending.
func (r *Repository) Diagnoses(ctx context.Context, subjectID int64) ([]Diagnosis, error) {
	defer r.observe("diagnoses")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			d.icd_code,
			d.icd_version,
			dd.long_title,
			d.seq_num,
			COUNT(*) AS occurrence_count,
			MAX(a.admittime) AS most_recent
		FROM diagnoses_icd d
		LEFT JOIN d_icd_diagnoses dd ON d.icd_code = dd.icd_code AND d.icd_version = dd.icd_version
		LEFT JOIN admissions a ON d.hadm_id = a.hadm_id
		WHERE d.subject_id = $1
		GROUP BY d.icd_code, d.icd_version, dd.long_title, d.seq_num
		ORDER BY occurrence_count DESC, d.seq_num ASC
		LIMIT $2
	`, subjectID, clamp(r.limits.DiagnosisLimit, 8))
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnoses: %w", err)
	}
	defer rows.Close()

	var out []Diagnosis
	for rows.Next() {
		var d Diagnosis
		if err := rows.Scan(
			&d.ICDCode, &d.ICDVersion, &d.LongTitle, &d.SeqNum,
			&d.OccurrenceCount, &d.MostRecent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan diagnosis: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Procedures returns procedures most-recent-first with descriptions.
func (r *Repository) Procedures(ctx context.Context, subjectID int64) ([]Procedure, error) {
	defer r.observe("procedures")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			p.icd_code,
			dp.long_title,
			p.chartdate,
			COUNT(*) AS occurrence_count
		FROM procedures_icd p
		LEFT JOIN d_icd_procedures dp ON p.icd_code = dp.icd_code AND p.icd_version = dp.icd_version
		WHERE p.subject_id = $1
		GROUP BY p.icd_code, dp.long_title, p.chartdate
		ORDER BY p.chartdate DESC
		LIMIT $2
	`, subjectID, clamp(r.limits.ProcedureLimit, 5))
	if err != nil {
		return nil, fmt.Errorf("failed to query procedures: %w", err)
	}
	defer rows.Close()

	var out []Procedure
	for rows.Next() {
		var p Procedure
		if err := rows.Scan(&p.ICDCode, &p.LongTitle, &p.ChartDate, &p.OccurrenceCount); err != nil {
			return nil, fmt.Errorf("failed to scan procedure: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentLabs returns lab results most-recent-first, carrying the
// abnormal flag and reference range.
func (r *Repository) RecentLabs(ctx context.Context, subjectID int64) ([]LabResult, error) {
	defer r.observe("recent_labs")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			le.charttime,
			li.label,
			li.fluid,
			li.category,
			le.value,
			le.valuenum,
			le.valueuom,
			le.flag,
			le.ref_range_lower,
			le.ref_range_upper
		FROM labevents le
		LEFT JOIN d_labitems li ON le.itemid = li.itemid
		WHERE le.subject_id = $1
		AND le.charttime IS NOT NULL
		ORDER BY le.charttime DESC
		LIMIT $2
	`, subjectID, clamp(r.limits.LabLimit, 12))
	if err != nil {
		return nil, fmt.Errorf("failed to query labs: %w", err)
	}
	defer rows.Close()

	var out []LabResult
	for rows.Next() {
		var l LabResult
		if err := rows.Scan(
			&l.ChartTime, &l.Label, &l.Fluid, &l.Category, &l.Value,
			&l.ValueNum, &l.ValueUOM, &l.Flag, &l.RefRangeLower, &l.RefRangeUpper,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lab result: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Medications returns prescribed medications most-recent-first.
func (r *Repository) Medications(ctx context.Context, subjectID int64) ([]Medication, error) {
	defer r.observe("medications")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			drug,
			drug_type,
			route,
			starttime,
			stoptime,
			dose_val_rx,
			dose_unit_rx,
			form_rx,
			gsn,
			ndc
		FROM prescriptions
		WHERE subject_id = $1
		AND drug IS NOT NULL
		ORDER BY starttime DESC
		LIMIT $2
	`, subjectID, clamp(r.limits.MedicationLimit, 10))
	if err != nil {
		return nil, fmt.Errorf("failed to query medications: %w", err)
	}
	defer rows.Close()

	var out []Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(
			&m.Drug, &m.DrugType, &m.Route, &m.StartTime, &m.StopTime,
			&m.DoseValRx, &m.DoseUnitRx, &m.FormRx, &m.GSN, &m.NDC,
		); err != nil {
			return nil, fmt.Errorf("failed to scan medication: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MedicationAdministrations returns eMAR rows most-recent-first.
func (r *Repository) MedicationAdministrations(ctx context.Context, subjectID int64) ([]MedAdministration, error) {
	defer r.observe("med_administrations")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			charttime,
			medication,
			event_txt,
			scheduletime
		FROM emar
		WHERE subject_id = $1
		AND medication IS NOT NULL
		ORDER BY charttime DESC
		LIMIT $2
	`, subjectID, clamp(r.limits.MedAdminLimit, 8))
	if err != nil {
		return nil, fmt.Errorf("failed to query medication administrations: %w", err)
	}
	defer rows.Close()

	var out []MedAdministration
	for rows.Next() {
		var m MedAdministration
		if err := rows.Scan(&m.ChartTime, &m.Medication, &m.EventText, &m.ScheduleTime); err != nil {
			return nil, fmt.Errorf("failed to scan medication administration: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ProviderOrders returns POE rows most-recent-first.
func (r *Repository) ProviderOrders(ctx context.Context, subjectID int64) ([]ProviderOrder, error) {
	defer r.observe("provider_orders")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			poe_id,
			ordertime,
			order_type,
			order_subtype,
			transaction_type,
			order_provider_id,
			order_status
		FROM poe
		WHERE subject_id = $1
		ORDER BY ordertime DESC
		LIMIT $2
	`, subjectID, clamp(r.limits.OrderLimit, 5))
	if err != nil {
		return nil, fmt.Errorf("failed to query provider orders: %w", err)
	}
	defer rows.Close()

	var out []ProviderOrder
	for rows.Next() {
		var o ProviderOrder
		if err := rows.Scan(
			&o.POEID, &o.OrderTime, &o.OrderType, &o.OrderSubtype,
			&o.TransactionType, &o.ProviderID, &o.OrderStatus,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ICUStays returns ICU stays most-recent-first.
func (r *Repository) ICUStays(ctx context.Context, subjectID int64) ([]ICUStay, error) {
	defer r.observe("icu_stays")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			stay_id,
			hadm_id,
			first_careunit,
			last_careunit,
			intime,
			outtime,
			los
		FROM icustays
		WHERE subject_id = $1
		ORDER BY intime DESC
		LIMIT $2
	`, subjectID, clamp(r.limits.ICUStayLimit, 5))
	if err != nil {
		return nil, fmt.Errorf("failed to query icu stays: %w", err)
	}
	defer rows.Close()

	var out []ICUStay
	for rows.Next() {
		var s ICUStay
		if err := rows.Scan(
			&s.StayID, &s.HadmID, &s.FirstCareUnit, &s.LastCareUnit,
			&s.InTime, &s.OutTime, &s.LengthOfStayDays,
		); err != nil {
			return nil, fmt.Errorf("failed to scan icu stay: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ICUVitals returns charted vital signs and assessments for the
// subject's ICU stays, most-recent-first.
func (r *Repository) ICUVitals(ctx context.Context, subjectID int64) ([]Vital, error) {
	defer r.observe("icu_vitals")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			ce.charttime,
			di.label,
			di.category,
			ce.value,
			ce.valuenum,
			ce.valueuom,
			CASE WHEN ce.warning = 1 THEN 'Warning' ELSE 'Normal' END AS status
		FROM chartevents ce
		LEFT JOIN d_items di ON ce.itemid = di.itemid
		WHERE ce.subject_id = $1
		AND di.category IN ('Vital Signs', 'Labs', 'Respiratory')
		ORDER BY ce.charttime DESC
		LIMIT $2
	`, subjectID, clamp(r.limits.VitalLimit, 15))
	if err != nil {
		return nil, fmt.Errorf("failed to query icu vitals: %w", err)
	}
	defer rows.Close()

	var out []Vital
	for rows.Next() {
		var v Vital
		if err := rows.Scan(
			&v.ChartTime, &v.Label, &v.Category, &v.Value,
			&v.ValueNum, &v.ValueUOM, &v.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vital: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ICUInputs returns fluid/medication input events, most-recent-first.
func (r *Repository) ICUInputs(ctx context.Context, subjectID int64) ([]ICUInput, error) {
	defer r.observe("icu_inputs")()

	rows, err := r.pool.Query(ctx, `
		SELECT
			ie.starttime,
			ie.endtime,
			di.label,
			ie.amount,
			ie.amountuom,
			ie.rate,
			ie.rateuom,
			ie.ordercategoryname,
			ie.statusdescription
		FROM inputevents ie
		LEFT JOIN d_items di ON ie.itemid = di.itemid
		WHERE ie.subject_id = $1
		ORDER BY ie.starttime DESC
		LIMIT $2
	`, subjectID, clamp(r.limits.ICUInputLimit, 8))
	if err != nil {
		return nil, fmt.Errorf("failed to query icu inputs: %w", err)
	}
	defer rows.Close()

	var out []ICUInput
	for rows.Next() {
		var in ICUInput
		if err := rows.Scan(
			&in.StartTime, &in.EndTime, &in.Label, &in.Amount, &in.AmountUOM,
			&in.Rate, &in.RateUOM, &in.OrderCategoryName, &in.StatusDescription,
		); err != nil {
			return nil, fmt.Errorf("failed to scan icu input: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Load runs every bounded accessor and bundles the results. Each list
// is independently bounded so the assembled context stays predictable.
func (r *Repository) Load(ctx context.Context, subjectID int64) (*PatientRecord, error) {
	rec := &PatientRecord{SubjectID: subjectID}

	var err error
	if rec.Profile, err = r.Profile(ctx, subjectID); err != nil {
		return nil, err
	}
	if rec.Admissions, err = r.RecentAdmissions(ctx, subjectID); err != nil {
		return nil, err
	}
	if rec.Diagnoses, err = r.Diagnoses(ctx, subjectID); err != nil {
		return nil, err
	}
	if rec.Procedures, err = r.Procedures(ctx, subjectID); err != nil {
		return nil, err
	}
	if rec.Labs, err = r.RecentLabs(ctx, subjectID); err != nil {
		return nil, err
	}
	if rec.Medications, err = r.Medications(ctx, subjectID); err != nil {
		return nil, err
	}
	if rec.MedAdministrations, err = r.MedicationAdministrations(ctx, subjectID); err != nil {
		return nil, err
	}
	if rec.Orders, err = r.ProviderOrders(ctx, subjectID); err != nil {
		return nil, err
	}
	if rec.ICUStays, err = r.ICUStays(ctx, subjectID); err != nil {
		return nil, err
	}
	if len(rec.ICUStays) > 0 {
		if rec.Vitals, err = r.ICUVitals(ctx, subjectID); err != nil {
			return nil, err
		}
		if rec.ICUInputs, err = r.ICUInputs(ctx, subjectID); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (r *Repository) observe(operation string) func() {
	start := time.Now()
	return func() {
		metrics.RecordDBQuery(operation, time.Since(start))
	}
}
