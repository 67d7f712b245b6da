package store

import "fmt"

// DynamoDB schema constants for single-table design
const (
	// Table attributes
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrGSI1PK     = "GSI1PK"
	AttrGSI1SK     = "GSI1SK"
	AttrGSI2PK     = "GSI2PK"
	AttrGSI2SK     = "GSI2SK"
	AttrEntityType = "entity_type"
	AttrStatus     = "status"

	// Entity types
	EntityTypeSession    = "ExecutionSession"
	EntityTypeCheckpoint = "Checkpoint"
	EntityTypeSignal     = "Signal"

	// Index names
	IndexPrimaryLookup = "GSI1"
	IndexStatusLookup  = "GSI2"
)

// Key builders for single-table design

// Session keys: PK=SESSION#{executionID}, SK=META
func sessionPK(executionID string) string {
	return fmt.Sprintf("SESSION#%s", executionID)
}

// GSI1 indexes sessions by cascade: CASCADE#{cascadeID}
func sessionGSI1PK(cascadeID string) string {
	return fmt.Sprintf("CASCADE#%s", cascadeID)
}

// GSI2 splits sessions by liveness so the zombie sweep only reads
// non-terminal rows: SESSION#LIVE or SESSION#DONE
func sessionGSI2PK(terminal bool) string {
	if terminal {
		return "SESSION#DONE"
	}
	return "SESSION#LIVE"
}

// Checkpoint keys: PK=CP#{id}, SK=META
func checkpointPK(id string) string {
	return fmt.Sprintf("CP#%s", id)
}

// GSI1 indexes checkpoints by execution: EXEC#{executionID}#CP
func checkpointGSI1PK(executionID string) string {
	return fmt.Sprintf("EXEC#%s#CP", executionID)
}

// GSI2 indexes checkpoints by status: CP#STATUS#{status}
func checkpointGSI2PK(status string) string {
	return fmt.Sprintf("CP#STATUS#%s", status)
}

// Signal keys: PK=SIG#{id}, SK=META
func signalPK(id string) string {
	return fmt.Sprintf("SIG#%s", id)
}

// GSI1 indexes signals by name: SIG#NAME#{name}
func signalGSI1PK(name string) string {
	return fmt.Sprintf("SIG#NAME#%s", name)
}

// GSI2 indexes signals by status: SIG#STATUS#{status}
func signalGSI2PK(status string) string {
	return fmt.Sprintf("SIG#STATUS#%s", status)
}

func metaSK() string {
	return "META"
}
