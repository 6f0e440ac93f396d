package domain

type ColumnKind string

const (
	ColumnCategorical ColumnKind = "categorical"
	ColumnNumeric     ColumnKind = "numeric"
)

type ColumnSpec struct {
	Name string
	Kind ColumnKind
}

// TrainingSpec describes one AutoML tabular training run.
type TrainingSpec struct {
	DisplayName          string
	Columns              []ColumnSpec
	TargetColumn         string
	PredictionType       string
	Objective            string
	BudgetMilliNodeHours int64
}

// PurchaseTrainingSpec is the fixed schema of the purchases table: a binary
// classifier on "purchased" optimizing AU-ROC.
func PurchaseTrainingSpec(displayName string, budgetMilliNodeHours int64) TrainingSpec {
	return TrainingSpec{
		DisplayName: displayName,
		Columns: []ColumnSpec{
			{Name: "user_id", Kind: ColumnCategorical},
			{Name: "product_id", Kind: ColumnCategorical},
			{Name: "category", Kind: ColumnCategorical},
			{Name: "price", Kind: ColumnNumeric},
			{Name: "season", Kind: ColumnCategorical},
		},
		TargetColumn:         "purchased",
		PredictionType:       "classification",
		Objective:            "maximize-au-roc",
		BudgetMilliNodeHours: budgetMilliNodeHours,
	}
}

type DeploySpec struct {
	DisplayName string
	MachineType string
	MinReplicas int
	MaxReplicas int
}
