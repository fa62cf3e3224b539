package config

type WorkerKeyStruct struct {
	ReconcileQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ReconcileQueue: "portal_reconcile_queue",
}
