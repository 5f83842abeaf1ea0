package domain

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Development struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Code      string `json:"code,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Unit struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	DevelopmentID string `json:"development_id"`
	UnitNumber    string `json:"unit_number"`
	Address       string `json:"address,omitempty"`
	HouseType     string `json:"house_type,omitempty"`
	Bedrooms      int    `json:"bedrooms"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// PipelineRecord is one-to-one with a Unit and created lazily on the first
// pipeline write. All milestone timestamps are optional; when present they are
// expected to be non-decreasing in stage order, but that is a data-entry
// precondition, not something the engine enforces.
type PipelineRecord struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	DevelopmentID string `json:"development_id"`
	UnitID        string `json:"unit_id"`

	ReleaseDate         *string `json:"release_date,omitempty" format:"date-time"`
	SaleAgreedDate      *string `json:"sale_agreed_date,omitempty" format:"date-time"`
	DepositPaidDate     *string `json:"deposit_paid_date,omitempty" format:"date-time"`
	ContractsIssuedDate *string `json:"contracts_issued_date,omitempty" format:"date-time"`
	SignedContractsDate *string `json:"signed_contracts_date,omitempty" format:"date-time"`
	CounterSignedDate   *string `json:"counter_signed_date,omitempty" format:"date-time"`
	KitchenDate         *string `json:"kitchen_date,omitempty" format:"date-time"`
	SnagDate            *string `json:"snag_date,omitempty" format:"date-time"`
	DesnagDate          *string `json:"desnag_date,omitempty" format:"date-time"`
	DrawdownDate        *string `json:"drawdown_date,omitempty" format:"date-time"`
	HandoverDate        *string `json:"handover_date,omitempty" format:"date-time"`

	PurchaserName  string `json:"purchaser_name,omitempty"`
	PurchaserEmail string `json:"purchaser_email,omitempty"`
	PurchaserPhone string `json:"purchaser_phone,omitempty"`
	SolicitorFirm  string `json:"solicitor_firm,omitempty"`

	HasKitchen     *bool  `json:"has_kitchen,omitempty"`
	KitchenCounter string `json:"kitchen_counter,omitempty"`
	KitchenCabinet string `json:"kitchen_cabinet,omitempty"`
	KitchenHandle  string `json:"kitchen_handle,omitempty"`
	HasWardrobe    *bool  `json:"has_wardrobe,omitempty"`
	KitchenNotes   string `json:"kitchen_notes,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// FieldStamp records who last wrote a milestone field and when.
type FieldStamp struct {
	UpdatedBy string `json:"updated_by"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type PipelineNote struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	PipelineID string `json:"pipeline_id"`
	UnitID     string `json:"unit_id"`
	NoteType   string `json:"note_type" enum:"general,query,issue,update"`
	Content    string `json:"content"`
	IsResolved bool   `json:"is_resolved"`
	ResolvedAt string `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy string `json:"resolved_by,omitempty"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type ComplianceDocument struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	DevelopmentID string `json:"development_id"`
	UnitID        string `json:"unit_id"`
	Kind          string `json:"kind"`
	Status        string `json:"status" enum:"uploaded,verified,expired,missing"`
	ExpiryDate    string `json:"expiry_date,omitempty" format:"date-time"`
	UploadedBy    string `json:"uploaded_by,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type SnagItem struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	DevelopmentID string `json:"development_id"`
	UnitID        string `json:"unit_id"`
	Description   string `json:"description"`
	Location      string `json:"location,omitempty"`
	Status        string `json:"status" enum:"open,in_progress,resolved,closed"`
	RaisedBy      string `json:"raised_by,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

// AttentionItem is computed on demand and never persisted.
type AttentionItem struct {
	Category        string `json:"category" enum:"stuck_pipeline,compliance_overdue,open_snags"`
	Severity        string `json:"severity"`
	DevelopmentID   string `json:"development_id"`
	DevelopmentName string `json:"development_name"`
	Count           int    `json:"count"`
	Summary         string `json:"summary"`
}

// ChaseMessage is the rendered output of the chase generator. The engine never
// sends it; delivery belongs to whatever collaborator receives it.
type ChaseMessage struct {
	To          string `json:"to"`
	CC          string `json:"cc,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Stage       string `json:"stage"`
	DaysPending int    `json:"days_pending"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TenantID   string `json:"tenant_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
