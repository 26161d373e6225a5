package cluster

// MutationType identifica la operación replicada.
type MutationType string

const (
	MutationPut    MutationType = "put"
	MutationDelete MutationType = "delete"
)

// Mutation es la unidad que viaja por el log de Raft: una escritura o borrado
// del record store. JSON para que los followers de versiones distintas puedan
// ignorar campos que no conocen.
type Mutation struct {
	Type  MutationType `json:"type"`
	Key   string       `json:"key"`
	Value []byte       `json:"value,omitempty"`
}
