package payroll

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/veilpay/internal/fhe"
)

type InMemoryEmployeeRepository struct {
	mutex     sync.RWMutex
	employees map[fhe.Principal]*Employee
	order     []fhe.Principal
}

func NewInMemoryEmployeeRepository() *InMemoryEmployeeRepository {
	return &InMemoryEmployeeRepository{employees: make(map[fhe.Principal]*Employee)}
}

func (r *InMemoryEmployeeRepository) Get(ctx context.Context, wallet fhe.Principal) (*Employee, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, ok := r.employees[wallet]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *e
	return &copy, nil
}

func (r *InMemoryEmployeeRepository) Create(ctx context.Context, e *Employee) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.employees[e.Wallet]; ok {
		return ErrEmployeeAlreadyExists
	}
	copy := *e
	r.employees[e.Wallet] = &copy
	r.order = append(r.order, e.Wallet)
	return nil
}

func (r *InMemoryEmployeeRepository) Update(ctx context.Context, e *Employee) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.employees[e.Wallet]; !ok {
		return ErrNotFound
	}
	copy := *e
	r.employees[e.Wallet] = &copy
	return nil
}

func (r *InMemoryEmployeeRepository) List(ctx context.Context) ([]*Employee, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	employees := make([]*Employee, 0, len(r.order))
	for _, wallet := range r.order {
		copy := *r.employees[wallet]
		employees = append(employees, &copy)
	}
	return employees, nil
}

func (r *InMemoryEmployeeRepository) Count(ctx context.Context) (int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.employees), nil
}

func (r *InMemoryEmployeeRepository) CountActive(ctx context.Context) (int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	n := 0
	for _, e := range r.employees {
		if e.Active {
			n++
		}
	}
	return n, nil
}

type InMemoryPaymentRepository struct {
	mutex    sync.RWMutex
	payments map[int64]*PendingPayment
	nextID   int64
}

func NewInMemoryPaymentRepository() *InMemoryPaymentRepository {
	return &InMemoryPaymentRepository{payments: make(map[int64]*PendingPayment)}
}

func (r *InMemoryPaymentRepository) Create(ctx context.Context, p *PendingPayment) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := r.nextID
	r.nextID++

	copy := *p
	copy.ID = id
	r.payments[id] = &copy

	p.ID = id
	return id, nil
}

func (r *InMemoryPaymentRepository) Get(ctx context.Context, id int64) (*PendingPayment, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (r *InMemoryPaymentRepository) UpdateStatus(ctx context.Context, id int64, status PaymentStatus) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	return nil
}

func (r *InMemoryPaymentRepository) ListIDsByEmployee(ctx context.Context, wallet fhe.Principal) ([]int64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var ids []int64
	for id := int64(0); id < r.nextID; id++ {
		if p, ok := r.payments[id]; ok && p.Employee == wallet {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *InMemoryPaymentRepository) ListAll(ctx context.Context) ([]*PendingPayment, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	payments := make([]*PendingPayment, 0, len(r.payments))
	for id := int64(0); id < r.nextID; id++ {
		if p, ok := r.payments[id]; ok {
			copy := *p
			payments = append(payments, &copy)
		}
	}
	return payments, nil
}

func (r *InMemoryPaymentRepository) NextID(ctx context.Context) (int64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.nextID, nil
}

type InMemoryRunRepository struct {
	mutex sync.RWMutex
	runs  []*PayrollRun
}

func NewInMemoryRunRepository() *InMemoryRunRepository {
	return &InMemoryRunRepository{}
}

func (r *InMemoryRunRepository) Create(ctx context.Context, run *PayrollRun) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id := int64(len(r.runs)) + 1
	copy := *run
	copy.ID = id
	r.runs = append(r.runs, &copy)

	run.ID = id
	return id, nil
}

func (r *InMemoryRunRepository) Get(ctx context.Context, id int64) (*PayrollRun, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if id < 1 || id > int64(len(r.runs)) {
		return nil, ErrNotFound
	}
	copy := *r.runs[id-1]
	return &copy, nil
}

func (r *InMemoryRunRepository) Count(ctx context.Context) (int64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return int64(len(r.runs)), nil
}
