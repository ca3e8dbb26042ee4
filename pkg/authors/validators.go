package authors

type ListAuthorsQuery struct {
	Limit  int     `query:"limit" json:"limit,omitempty" default:"20" validate:"min=1,max=100"`
	Offset int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Search *string `query:"search" json:"search,omitempty"`
}

type ListSimilarQuery struct {
	Limit int `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=50"`
}
