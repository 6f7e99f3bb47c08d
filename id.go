package ticketbooth

import "github.com/xraph/ticketbooth/id"

// ID is the primary identifier type for all ticketbooth entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
