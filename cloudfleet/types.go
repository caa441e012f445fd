package cloudfleet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrWatermarkQuery is returned alongside the fallback window start when the store could not be read.
	ErrWatermarkQuery = errors.New("watermark query failed")
	// ErrRunInProgress means another sync run holds the lease.
	ErrRunInProgress    = errors.New("a sync run is already in progress")
	ErrMissingParameter = errors.New("missing required parameter")
)

// UpstreamError is a non-2xx response from the CloudFleet API.
type UpstreamError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("cloudfleet: %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

type Domain string

const (
	DomainOrders     Domain = "orders"
	DomainIssues     Domain = "issues"
	DomainChecklists Domain = "checklists"
)

// SyncOrder is the fixed order in which domains are synchronized.
var SyncOrder = []Domain{DomainOrders, DomainIssues, DomainChecklists}

// domainSpec describes how one domain is listed upstream and where its watermark lives.
type domainSpec struct {
	Path            string
	FromParam       string
	ToParam         string
	Extra           url.Values
	WatermarkModel  interface{}
	WatermarkColumn string
}

var domainSpecs = map[Domain]domainSpec{
	DomainOrders: {
		Path:            "/v1/work-orders",
		FromParam:       "StartDateFrom",
		ToParam:         "StartDateTo",
		WatermarkModel:  &models.WorkOrder{},
		WatermarkColumn: "start_date",
	},
	DomainIssues: {
		Path:            "/v1/issues",
		FromParam:       "createdAtFrom",
		ToParam:         "createdAtTo",
		Extra:           url.Values{"includeDone": []string{"all"}},
		WatermarkModel:  &models.Issue{},
		WatermarkColumn: "reported_at",
	},
	DomainChecklists: {
		Path:            "/v1/checklist",
		FromParam:       "checklistDateFrom",
		ToParam:         "checklistDateTo",
		WatermarkModel:  &models.Checklist{},
		WatermarkColumn: "checklist_date",
	},
}

func specFor(d Domain) (domainSpec, error) {
	spec, ok := domainSpecs[d]
	if !ok {
		return domainSpec{}, fmt.Errorf("unknown domain %q", d)
	}
	return spec, nil
}

// windowQuery encodes the time window the way the upstream list endpoints expect it.
func (s domainSpec) windowQuery(start, end time.Time) url.Values {
	q := url.Values{}
	q.Set(s.FromParam, start.Format(time.RFC3339))
	q.Set(s.ToParam, end.Format(time.RFC3339))
	for k, v := range s.Extra {
		q[k] = append([]string(nil), v...)
	}
	return q
}

/* upstream payloads */

type namedRef struct {
	Name string `json:"name"`
}

type vendorRef struct {
	Name           string `json:"name"`
	Identification string `json:"identification"`
}

type invoiceRef struct {
	Number     string `json:"number"`
	Date       string `json:"date"`
	FilingDate string `json:"filingDate"`
}

type vehicleRef struct {
	Code string `json:"code"`
}

// upstreamTime accepts the timestamp shapes CloudFleet emits; anything unparseable is treated as absent.
type upstreamTime struct {
	time.Time
	Valid bool
}

var upstreamTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *upstreamTime) UnmarshalJSON(b []byte) error {
	*t = upstreamTime{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range upstreamTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			t.Valid = true
			return nil
		}
	}
	return nil
}

func (t upstreamTime) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t upstreamTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// flexString keeps scalar answers (text, numbers, booleans) as their literal text.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

type workOrderSummary struct {
	Number int `json:"number" validate:"gt=0"`
}

type workOrderPayload struct {
	Number                            int             `json:"number" validate:"gt=0"`
	VehicleCode                       string          `json:"vehicleCode"`
	WorkshopDate                      upstreamTime    `json:"workshopDate"`
	StartDate                         upstreamTime    `json:"startDate"`
	EstimatedFinishDate               upstreamTime    `json:"estimatedFinishDate"`
	Status                            string          `json:"status"`
	Odometer                          decimal.Decimal `json:"odometer"`
	Vendor                            *vendorRef      `json:"vendor"`
	Reason                            string          `json:"reason"`
	MaintenanceLabels                 []string        `json:"maintenanceLabels"`
	Type                              string          `json:"type"`
	City                              *namedRef       `json:"city"`
	CostCenter                        *namedRef       `json:"costCenter"`
	PrimaryGroup                      *namedRef       `json:"primaryGroup"`
	CreatedAt                         upstreamTime    `json:"createdAt"`
	CreatedBy                         *namedRef       `json:"createdBy"`
	AffectsMaintenanceSchedule        bool            `json:"affectsMaintenanceSchedule"`
	AffectsVehicleAvailability        bool            `json:"affectsVehicleAvailability"`
	UpdatedAt                         upstreamTime    `json:"updatedAt"`
	UpdatedBy                         *namedRef       `json:"updatedBy"`
	TotalCostLabors                   decimal.Decimal `json:"totalCostLabors"`
	TotalCostParts                    decimal.Decimal `json:"totalCostParts"`
	TotalCost                         decimal.Decimal `json:"totalCost"`
	TechnicalCompletionDate           upstreamTime    `json:"technicalCompletionDate"`
	FinalCompletionDate               upstreamTime    `json:"finalCompletionDate"`
	LastSystemTechnicalCompletionDate upstreamTime    `json:"lastSystemTechnicalCompletionDate"`
	LastSystemFinalCompletionDate     upstreamTime    `json:"lastSystemFinalCompletionDate"`
	Labors                            []laborPayload  `json:"labors" validate:"dive"`
	Parts                             []partPayload   `json:"parts" validate:"dive"`
}

type laborPayload struct {
	ID              int             `json:"id" validate:"gt=0"`
	Name            string          `json:"name"`
	MaintenanceType *namedRef       `json:"maintenanceType"`
	UnitCost        decimal.Decimal `json:"unitCost"`
	Qty             decimal.Decimal `json:"qty"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
	TotalCost       decimal.Decimal `json:"totalCost"`
	System          *namedRef       `json:"system"`
	Subsystem       *namedRef       `json:"subsystem"`
	LedgerAccount   string          `json:"ledgerAccount"`
	Invoice         *invoiceRef     `json:"invoice"`
	Comment         string          `json:"comment"`
	CreatedAt       upstreamTime    `json:"createdAt"`
	Vendor          *vendorRef      `json:"vendor"`
}

type partPayload struct {
	ID            int             `json:"id" validate:"gt=0"`
	Name          string          `json:"name"`
	Code          string          `json:"code"`
	UnitCost      decimal.Decimal `json:"unitCost"`
	Qty           decimal.Decimal `json:"qty"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	TotalCost     decimal.Decimal `json:"totalCost"`
	Vendor        *vendorRef      `json:"vendor"`
	LedgerAccount string          `json:"ledgerAccount"`
	Invoice       *invoiceRef     `json:"invoice"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Comment       string          `json:"comment"`
	CreatedAt     upstreamTime    `json:"createdAt"`
}

type issuePayload struct {
	Number              int                `json:"number" validate:"gt=0"`
	VehicleCode         string             `json:"vehicleCode"`
	ReportedAt          upstreamTime       `json:"reportedAt"`
	Reporter            *namedRef          `json:"reporter"`
	Priority            string             `json:"priority"`
	Odometer            decimal.Decimal    `json:"odometer"`
	Comment             string             `json:"comment"`
	IsDone              bool               `json:"isDone"`
	DoneAt              upstreamTime       `json:"doneAt"`
	WorkOrderDoneNumber int                `json:"workOrderDoneNumber"`
	CreatedBy           *namedRef          `json:"createdBy"`
	CreatedAt           upstreamTime       `json:"createdAt"`
	FromChecklistNumber int                `json:"fromChecklistNumber"`
	AssociatedLabor     *issueLaborPayload `json:"associatedLabor"`
}

type issueLaborPayload struct {
	ID   int    `json:"id" validate:"gt=0"`
	Name string `json:"name"`
}

type checklistPayload struct {
	Number            int               `json:"number" validate:"gt=0"`
	Vehicle           *vehicleRef       `json:"vehicle"`
	ChecklistDate     upstreamTime      `json:"checklistDate"`
	Status            *namedRef         `json:"status"`
	StartedAt         upstreamTime      `json:"startedAt"`
	EndedAt           upstreamTime      `json:"endedAt"`
	DurationInMinutes decimal.Decimal   `json:"durationInMinutes"`
	Type              *namedRef         `json:"type"`
	Odometer          decimal.Decimal   `json:"odometer"`
	Hourmeter         decimal.Decimal   `json:"hourmeter"`
	Driver            *namedRef         `json:"driver"`
	City              *namedRef         `json:"city"`
	CostCenter        *namedRef         `json:"costCenter"`
	PrimaryGroup      *namedRef         `json:"primaryGroup"`
	CreatedAt         upstreamTime      `json:"createdAt"`
	CreatedBy         *namedRef         `json:"createdBy"`
	Variables         []variablePayload `json:"variables" validate:"dive"`
}

type variablePayload struct {
	Name      string     `json:"name" validate:"required"`
	Response  flexString `json:"response"`
	GroupName string     `json:"groupName"`
	Status    *namedRef  `json:"status"`
	Comment   string     `json:"comment"`
}
