package database

type AnnouncementRepository interface {
	Insert(ann Announcement) (bool, error)
	SetState(id int64, state State) error
	List(order Order) ([]Announcement, error)
	Get(id int64) (*Announcement, error)
	CountByState() (map[State]int, error)
}

type StockRepository interface {
	Add(code, name, category string) (bool, error)
	Remove(code string) error
	List() ([]string, error)
	ListStocks() ([]Stock, error)
	Count() (int, error)
}
