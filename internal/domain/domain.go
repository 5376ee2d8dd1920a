package domain

// Role is the marketplace-facing role of a user. Agents post jobs and pay
// invoices; contractors apply, perform the work, and bill for it.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleContractor Role = "contractor"
)

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Actor is the authenticated caller of a workflow operation, as handed to
// the engine by the surrounding request layer.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type Budget struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

type Applicant struct {
	ContractorID string `json:"contractor_id"`
	Note         string `json:"note,omitempty"`
	Status       string `json:"status" enum:"APPLIED,ACCEPTED,REJECTED"`
	AppliedAt    string `json:"applied_at" format:"date-time"`
}

type Job struct {
	ID                 string      `json:"id"`
	CreatedBy          string      `json:"created_by"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	Location           string      `json:"location,omitempty"`
	Area               string      `json:"area,omitempty"`
	RequiredSkills     []string    `json:"required_skills,omitempty"`
	Budget             Budget      `json:"budget"`
	Status             string      `json:"status"`
	CurrentState       string      `json:"current_state"`
	AssignedContractor *string     `json:"assigned_contractor,omitempty"`
	Applicants         []Applicant `json:"applicants,omitempty"`
	CreatedAt          string      `json:"created_at" format:"date-time"`
	UpdatedAt          string      `json:"updated_at" format:"date-time"`
}

type Attachment struct {
	FileURL      string `json:"file_url"`
	OriginalName string `json:"original_name"`
	UploadedAt   string `json:"uploaded_at" format:"date-time"`
}

type WorkOrder struct {
	ID           string       `json:"id"`
	JobID        string       `json:"job_id"`
	AgentID      string       `json:"agent_id"`
	ContractorID string       `json:"contractor_id"`
	Number       string       `json:"number"`
	ScopeOfWork  string       `json:"scope_of_work"`
	Terms        string       `json:"terms,omitempty"`
	Status       string       `json:"status"`
	CurrentState string       `json:"current_state"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
	UpdatedAt    string       `json:"updated_at" format:"date-time"`
}

type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

type Invoice struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	WorkOrderID  string     `json:"work_order_id"`
	AgentID      string     `json:"agent_id"`
	ContractorID string     `json:"contractor_id"`
	Number       string     `json:"number"`
	Items        []LineItem `json:"items"`
	Currency     string     `json:"currency"`
	TotalAmount  float64    `json:"total_amount"`
	Status       string     `json:"status"`
	CurrentState string     `json:"current_state"`
	Notes        string     `json:"notes,omitempty"`
	ApprovedAt   *string    `json:"approved_at,omitempty" format:"date-time"`
	PaidAt       *string    `json:"paid_at,omitempty" format:"date-time"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
}

// Total returns the sum of quantity times unit price over items.
func (inv Invoice) Total() float64 {
	var sum float64
	for _, it := range inv.Items {
		sum += it.Quantity * it.UnitPrice
	}
	return sum
}

// WorkflowAudit is one append-only record per successful transition.
type WorkflowAudit struct {
	ID            string  `json:"id"`
	EntityType    string  `json:"entity_type" enum:"JOB,WORK_ORDER,INVOICE"`
	EntityID      string  `json:"entity_id"`
	FromState     string  `json:"from_state"`
	ToState       string  `json:"to_state"`
	PerformedBy   string  `json:"performed_by"`
	PerformedRole Role    `json:"performed_role"`
	JobID         *string `json:"job_id,omitempty"`
	WorkOrderID   *string `json:"work_order_id,omitempty"`
	InvoiceID     *string `json:"invoice_id,omitempty"`
	MetadataJSON  *string `json:"metadata_json,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Notification struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Type        string  `json:"type" enum:"JOB,WORK_ORDER,INVOICE,SYSTEM"`
	Title       string  `json:"title"`
	Body        string  `json:"body,omitempty"`
	JobID       *string `json:"job_id,omitempty"`
	WorkOrderID *string `json:"work_order_id,omitempty"`
	InvoiceID   *string `json:"invoice_id,omitempty"`
	Read        bool    `json:"read"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}
