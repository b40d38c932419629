// Package cleanup retires resources marked for deletion.
//
// Each resource goes through a Transaction:
//
//	pending_delete -> backed_up -> deleted -> committed
//	       \              \           \
//	        +--------------+-----------+--> error
//
// The backup is staged before the native delete and committed only after it,
// so a committed backup always refers to a resource that is gone. A staged
// backup is discarded when the delete fails.
package cleanup
