package server

import (
	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/engine"
)

// Request payloads

type CreateDevelopmentRequest struct {
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

type CreateUnitRequest struct {
	DevelopmentID string `json:"development_id"`
	UnitNumber    string `json:"unit_number"`
	Address       string `json:"address,omitempty"`
	HouseType     string `json:"house_type,omitempty"`
	Bedrooms      int    `json:"bedrooms,omitempty"`
}

type MilestoneRequest struct {
	Field string `json:"field"`
	// Value is an RFC 3339 timestamp; empty means now.
	Value string `json:"value,omitempty" format:"date-time"`
	Clear bool   `json:"clear,omitempty"`
}

type ContactRequest struct {
	PurchaserName  *string `json:"purchaser_name,omitempty"`
	PurchaserEmail *string `json:"purchaser_email,omitempty"`
	PurchaserPhone *string `json:"purchaser_phone,omitempty"`
	SolicitorFirm  *string `json:"solicitor_firm,omitempty"`
}

type KitchenRequest struct {
	Field     string `json:"field" enum:"has_kitchen,counter,cabinet,handle,has_wardrobe,notes"`
	Value     string `json:"value,omitempty"`
	BoolValue *bool  `json:"bool_value,omitempty"`
}

type CreateNoteRequest struct {
	NoteType string `json:"note_type,omitempty" enum:"general,query,issue,update"`
	Content  string `json:"content"`
}

type ResolveNoteRequest struct {
	Resolved bool `json:"resolved"`
}

type ComplianceRequest struct {
	Status     string `json:"status" enum:"uploaded,verified,expired,missing"`
	ExpiryDate string `json:"expiry_date,omitempty" format:"date-time"`
}

type CreateSnagRequest struct {
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
}

type SnagStatusRequest struct {
	Status string `json:"status" enum:"open,in_progress,resolved,closed"`
}

type ChaseRequest struct {
	Stage string `json:"stage" enum:"contracts,kitchen,snag,desnag"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"developer,admin,super_admin"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type PipelineResponse struct {
	Record    domain.PipelineRecord `json:"record"`
	Stage     string                `json:"stage"`
	EnteredAt *string               `json:"entered_at,omitempty" format:"date-time"`
	DwellDays int                   `json:"dwell_days"`
	Health    string                `json:"health" enum:"green,amber,red"`
}

func pipelineResponse(a engine.AnnotatedPipeline) PipelineResponse {
	return PipelineResponse{
		Record:    a.Record,
		Stage:     a.Stage,
		EnteredAt: a.EnteredAt,
		DwellDays: a.DwellDays,
		Health:    a.Health,
	}
}

type BoardRowResponse struct {
	Unit      domain.Unit            `json:"unit"`
	Stage     string                 `json:"stage"`
	EnteredAt *string                `json:"entered_at,omitempty" format:"date-time"`
	DwellDays int                    `json:"dwell_days"`
	Health    string                 `json:"health" enum:"green,amber,red"`
	Record    *domain.PipelineRecord `json:"record,omitempty"`
}

type BoardResponse struct {
	Development domain.Development `json:"development"`
	Rows        []BoardRowResponse `json:"rows"`
	Funnel      map[string]int     `json:"funnel"`
	Health      map[string]int     `json:"health"`
}

func boardResponse(b engine.Board) BoardResponse {
	resp := BoardResponse{
		Development: b.Development,
		Rows:        []BoardRowResponse{},
		Funnel:      b.Funnel,
		Health:      b.Health,
	}
	for _, row := range b.Rows {
		resp.Rows = append(resp.Rows, BoardRowResponse{
			Unit:      row.Unit,
			Stage:     row.Stage,
			EnteredAt: row.EnteredAt,
			DwellDays: row.DwellDays,
			Health:    row.Health,
			Record:    row.Record,
		})
	}
	return resp
}

type KitchenRowResponse struct {
	Unit          domain.Unit `json:"unit"`
	PurchaserName string      `json:"purchaser_name,omitempty"`
	HasKitchen    *bool       `json:"has_kitchen,omitempty"`
	CounterType   string      `json:"counter_type,omitempty"`
	CabinetColor  string      `json:"cabinet_color,omitempty"`
	HandleStyle   string      `json:"handle_style,omitempty"`
	HasWardrobe   *bool       `json:"has_wardrobe,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	KitchenDate   *string     `json:"kitchen_date,omitempty" format:"date-time"`
	Status        string      `json:"status" enum:"complete,pending,none"`
	PCSumKitchen  int         `json:"pc_sum_kitchen"`
	PCSumWardrobe int         `json:"pc_sum_wardrobe"`
	PCSumTotal    int         `json:"pc_sum_total"`
}

type KitchenSummaryResponse struct {
	Total            int `json:"total"`
	Decided          int `json:"decided"`
	TakingKitchen    int `json:"taking_kitchen"`
	TakingOwnKitchen int `json:"taking_own_kitchen"`
	Pending          int `json:"pending"`
	TotalPCSumImpact int `json:"total_pc_sum_impact"`
}

type KitchenScheduleResponse struct {
	Development domain.Development     `json:"development"`
	Rows        []KitchenRowResponse   `json:"rows"`
	Options     KitchenOptionsResponse `json:"options"`
	Summary     KitchenSummaryResponse `json:"summary"`
}

type KitchenOptionsResponse struct {
	CounterTypes  map[string]string `json:"counter_types"`
	CabinetColors []string          `json:"cabinet_colors"`
	HandleStyles  []string          `json:"handle_styles"`
}

func kitchenScheduleResponse(s engine.KitchenSchedule) KitchenScheduleResponse {
	resp := KitchenScheduleResponse{
		Development: s.Development,
		Rows:        []KitchenRowResponse{},
		Options: KitchenOptionsResponse{
			CounterTypes:  s.Options.CounterTypes,
			CabinetColors: s.Options.CabinetColors,
			HandleStyles:  s.Options.HandleStyles,
		},
		Summary: KitchenSummaryResponse(s.Summary),
	}
	for _, row := range s.Rows {
		resp.Rows = append(resp.Rows, KitchenRowResponse{
			Unit:          row.Unit,
			PurchaserName: row.PurchaserName,
			HasKitchen:    row.HasKitchen,
			CounterType:   row.CounterType,
			CabinetColor:  row.CabinetColor,
			HandleStyle:   row.HandleStyle,
			HasWardrobe:   row.HasWardrobe,
			Notes:         row.Notes,
			KitchenDate:   row.KitchenDate,
			Status:        row.Status,
			PCSumKitchen:  row.PCSumKitchen,
			PCSumWardrobe: row.PCSumWardrobe,
			PCSumTotal:    row.PCSumTotal,
		})
	}
	return resp
}

type NotesResponse struct {
	Notes      []domain.PipelineNote `json:"notes"`
	Total      int                   `json:"total"`
	Unresolved int                   `json:"unresolved"`
}

func notesResponse(v engine.NotesView) NotesResponse {
	notes := v.Notes
	if notes == nil {
		notes = []domain.PipelineNote{}
	}
	return NotesResponse{Notes: notes, Total: v.Total, Unresolved: v.Unresolved}
}

type MissingDocumentResponse struct {
	UnitID      string `json:"unit_id"`
	UnitNumber  string `json:"unit_number"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

type ComplianceRegisterResponse struct {
	Development domain.Development          `json:"development"`
	Documents   []domain.ComplianceDocument `json:"documents"`
	Missing     []MissingDocumentResponse   `json:"missing"`
	Stats       map[string]int              `json:"stats"`
}

func complianceRegisterResponse(r engine.ComplianceRegister) ComplianceRegisterResponse {
	resp := ComplianceRegisterResponse{
		Development: r.Development,
		Documents:   r.Documents,
		Missing:     []MissingDocumentResponse{},
		Stats:       r.Stats,
	}
	if resp.Documents == nil {
		resp.Documents = []domain.ComplianceDocument{}
	}
	for _, m := range r.Missing {
		resp.Missing = append(resp.Missing, MissingDocumentResponse(m))
	}
	return resp
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is the plaintext, present only in the create response.
	Key string `json:"key,omitempty"`
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
		Key:       plain,
	}
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source,omitempty"`
}

type TenantConfigResponse struct {
	TenantID string         `json:"tenant_id"`
	Config   *config.Config `json:"config"`
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
