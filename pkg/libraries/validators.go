package libraries

type CreateLibraryPayload struct {
	Name        string `json:"name" validate:"required,max=255"`
	CatalogPath string `json:"catalog_path" validate:"required"`
}

type UpdateLibraryPayload struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	CatalogPath *string `json:"catalog_path,omitempty" validate:"omitempty,min=1"`
}

type ListLibrariesQuery struct {
	Limit  int `query:"limit" json:"limit,omitempty" default:"20" validate:"min=1,max=100"`
	Offset int `query:"offset" json:"offset,omitempty" validate:"min=0"`
}
