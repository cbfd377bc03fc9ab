package domain

import "errors"

// Taxonomía de errores común a todos los bounded contexts.
// Los errores de cada contexto envuelven una de estas categorías con %w,
// así las capas de entrada (HTTP, consumidores) clasifican con errors.Is.
var (
	// ErrValidation: petición mal formada. Se rechaza sin reintentos.
	ErrValidation = errors.New("validation error")
	// ErrConflict: carrera de escritura concurrente o inicio duplicado.
	ErrConflict = errors.New("conflict")
	// ErrTransientDependency: timeout o fallo recuperable de un colaborador o del almacenamiento.
	ErrTransientDependency = errors.New("transient dependency failure")
	// ErrPermanentFailure: compensación fallida o presupuesto de reintentos agotado.
	ErrPermanentFailure = errors.New("permanent failure")
	// ErrNotFound: el recurso pedido no existe.
	ErrNotFound = errors.New("not found")
)

// IsValidation indica si err pertenece a la categoría de validación.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsConflict indica si err es un conflicto de concurrencia o idempotencia.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsTransient indica si err se puede reintentar.
func IsTransient(err error) bool { return errors.Is(err, ErrTransientDependency) }

// IsPermanent indica si err debe escalarse a un operador.
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanentFailure) }

// IsNotFound indica si err representa un recurso inexistente.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
