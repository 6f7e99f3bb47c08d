package ticketbooth

import "github.com/xraph/ticketbooth/types"

// Re-export common types so callers don't have to import the types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Money constructors
var (
	USDC           = types.USDC
	USD            = types.USD
	Zero           = types.Zero
	Sum            = types.Sum
	ParseMajor     = types.ParseMajor
	MustParseMajor = types.MustParseMajor
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
