package units

type UnitPayload struct {
	ID            string  `json:"id" validate:"required"`
	Title         string  `json:"title" validate:"required"`
	Description   *string `json:"description,omitempty"`
	LearnerLevel  *string `json:"learner_level,omitempty"`
	IsGlobal      bool    `json:"is_global"`
	UpdatedAt     int64   `json:"updated_at" validate:"required"`
	SchemaVersion int     `json:"schema_version" validate:"required,min=1"`
	Payload       string  `json:"payload,omitempty"`
}

type LessonPayload struct {
	ID            string `json:"id" validate:"required"`
	Title         string `json:"title" validate:"required"`
	Position      int    `json:"position" validate:"min=0"`
	UpdatedAt     int64  `json:"updated_at" validate:"required"`
	SchemaVersion int    `json:"schema_version" validate:"required,min=1"`
	Payload       string `json:"payload,omitempty"`
}

type AssetPayload struct {
	ID        string  `json:"id" validate:"required"`
	MediaType string  `json:"media_type" validate:"required,oneof=audio image"`
	RemoteURI string  `json:"remote_uri" validate:"required,url"`
	Checksum  *string `json:"checksum,omitempty"`
	UpdatedAt int64   `json:"updated_at" validate:"required"`
}

type CacheMinimalUnitsPayload struct {
	Units []UnitPayload `json:"units" validate:"required,min=1,dive"`
}

type CacheFullUnitPayload struct {
	Unit    UnitPayload     `json:"unit" validate:"required"`
	Lessons []LessonPayload `json:"lessons" validate:"dive"`
	Assets  []AssetPayload  `json:"assets" validate:"dive"`
}

type SetCacheModePayload struct {
	Fidelity string `json:"fidelity" validate:"required,oneof=minimal full"`
}

type ListUnitsQuery struct {
	Fidelity        *string `query:"fidelity" json:"fidelity,omitempty" validate:"omitempty,oneof=minimal full"`
	IncludeOrphaned bool    `query:"include_orphaned" json:"include_orphaned,omitempty"`
}
