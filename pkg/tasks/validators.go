package tasks

type CreateTaskPayload struct {
	Type string      `json:"type" validate:"required,oneof=scan rescore"`
	Data interface{} `json:"data" validate:"required" tstype:"TaskScanData | TaskRescoreData"`
}

type ListTasksQuery struct {
	Limit  int      `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=100"`
	Offset int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending running completed failed cancelled"`
	Type   *string  `query:"type" json:"type,omitempty" validate:"omitempty,oneof=scan rescore"`
}
