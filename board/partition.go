package board

import "github.com/Mehedi107/job-task/domain"

// Column is one board column and the tasks it shows.
type Column struct {
	Category domain.Category
	Tasks    []domain.Task
}

// Partition groups tasks into the board columns in display order. Tasks keep
// their input order within a column. Tasks whose category is not a known
// column are left out.
func Partition(tasks []domain.Task) []Column {
	cols := make([]Column, len(domain.Categories))
	index := make(map[domain.Category]int, len(domain.Categories))
	for i, c := range domain.Categories {
		cols[i] = Column{Category: c, Tasks: []domain.Task{}}
		index[c] = i
	}
	for _, t := range tasks {
		if !t.Category.Known() {
			continue
		}
		i := index[t.Category]
		cols[i].Tasks = append(cols[i].Tasks, t)
	}
	return cols
}
