package log

const (
	// FldFile is the name of the log field for storing file name information
	FldFile = "file"
	// FldPath is the name of the log field for storing path name information
	FldPath = "path"
	// FldTransport is the name of the log field for storing a transport name
	FldTransport = "transport"
	// FldSession is the name of the log field for storing the session ID
	FldSession = "session"
	// FldUser is the name of the log field for storing the ID of the currently active user
	FldUser = "user"
	// FldVersion is the version number of the application
	FldVersion = "ver"
	// FldID is the ID of an entity used in the log entry
	FldID = "id"
	// FldProposal is the ID of the proposal a log entry refers to
	FldProposal = "proposal"
	// FldVote is the ID of a vote
	FldVote = "vote"
	// FldVenue is the ID of a venue
	FldVenue = "venue"
	// FldTicket is the ID of an event ticket
	FldTicket = "ticket"
	// FldState is a proposal, vote or ticket state
	FldState = "state"
	// FldFromState is the state a transition started in
	FldFromState = "from"
	// FldTx is the ID of a versioned transaction
	FldTx = "tx"
	// FldType is a proposal type
	FldType = "type"
	// FldMail is the kind of mail being queued or sent
	FldMail = "mail"
	// FldTopic is the admin message bus topic
	FldTopic = "topic"
	// FldJob is the name of a periodic job
	FldJob = "job"
	// FldRun is the ID of a periodic job run
	FldRun = "run"
	// FldSearch is a search term used in a serach
	FldSearch = "search"
	// FldOffset is the requested offset value in a search
	FldOffset = "offset"
	// FldLimit is the requested result limit in a search
	FldLimit = "limit"
)
