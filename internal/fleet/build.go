package fleet

import "fmt"

// Fleet member names, in launch order.
const (
	NameDispatch = "dispatch"
	NameVMNode   = "vm-node"
	NameSVMNode  = "svm-node"
)

// Params is everything needed to build the standard three-member fleet.
// Paths are passed through to the workers verbatim; Archive, Config and Item
// are normally relative to Dir.
type Params struct {
	DispatchPath string
	VMNodePath   string
	SVMNodePath  string

	DispatchConfig string
	Archive        string
	Item           string

	IP             string
	Port           int
	TimeoutSeconds int
	VMInstances    int
	SVMInstances   int

	Dir string
}

// Build returns the fleet in launch order: dispatch first so it is listening
// on Port before the nodes connect to it.
func Build(p Params) ([]WorkerSpec, error) {
	if p.Port < 1 || p.Port > 65535 {
		return nil, fmt.Errorf("fleet: port %d out of range", p.Port)
	}
	if p.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("fleet: negative timeout %d", p.TimeoutSeconds)
	}

	dispatch, err := NewWorkerSpec(NameDispatch, p.DispatchPath, Args{}.
		Flag("config", p.DispatchConfig).
		Flag("port", p.Port).
		Flag("archive", p.Archive).
		Flag("item", p.Item).
		Flag("time-out", p.TimeoutSeconds), p.Dir)
	if err != nil {
		return nil, err
	}
	vm, err := NewWorkerSpec(NameVMNode, p.VMNodePath, Args{}.
		Flag("ip", p.IP).
		Flag("port-master", p.Port).
		Flag("instances", p.VMInstances), p.Dir)
	if err != nil {
		return nil, err
	}
	svm, err := NewWorkerSpec(NameSVMNode, p.SVMNodePath, Args{}.
		Flag("ip", p.IP).
		Flag("port", p.Port).
		Flag("instances", p.SVMInstances), p.Dir)
	if err != nil {
		return nil, err
	}
	return []WorkerSpec{dispatch, vm, svm}, nil
}
