package domain

// Task is a team to-do item. CompletedByUserName is set only while
// Completed is true.
type Task struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	DueDate             string  `json:"dueDate"`
	Completed           bool    `json:"completed"`
	CompletedByUserName *string `json:"completedByUserName"`
	CreatedBy           string  `json:"createdBy"`
	CreatedByName       string  `json:"createdByName"`
	AssignedTo          *string `json:"assignedTo"`
	AssignedToName      *string `json:"assignedToName"`
	CreatedAt           int64   `json:"createdAt"`
}
