package query

// ---------- Tipos de paginación / ordenamiento ----------

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// OffsetPagination para paginación clásica
type OffsetPagination struct {
	Limit  int
	Offset int
}

// Normalize acota el límite a valores razonables.
func (p OffsetPagination) Normalize() OffsetPagination {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Sort indica campo y dirección.
type Sort struct {
	Field string // ej. "created_at", "event_id"
	Desc  bool
}

// SafeSort devuelve s si su campo está en la lista blanca, o fallback en caso contrario.
// Los campos de orden acaban concatenados en SQL, por eso nunca se aceptan tal cual.
func SafeSort(s Sort, fallback Sort, allowed ...string) Sort {
	for _, a := range allowed {
		if s.Field == a {
			return s
		}
	}
	return fallback
}
