package credentials

// defaultRecords is the built-in account table used when no credentials file
// is configured.
var defaultRecords = []Record{
	{JID: "c1@s5", Nickname: "pemba", PasswordHash: []byte("$2b$12$qWoDtedvx8jurr/2XVex7.raoa7tqIofxPYrx1.oy6qmDpHavkYwa")},
	{JID: "c2@s5", Nickname: "saurab", PasswordHash: []byte("$2b$12$suJThyymiIVez4nLyUjpPurPq/E3BBTRdDGMnxADdbIjdst5kbKvS")},
	{JID: "c3@s5", Nickname: "roshan", PasswordHash: []byte("$2b$12$Cz8bUuhzYyoHMdbvZLlcs.Cc0nOSR3VzAHOFrnF3ic6unrxZ6rwoG")},
	{JID: "c4@s5", Nickname: "bidur", PasswordHash: []byte("$2b$12$FwNWm33zvTOFtK6yrUXW0uMrMdu9jGR9AY7RgKgcm0sEzWjbhquOK")},
	{JID: "test1@s5", Nickname: "test1", PasswordHash: []byte("$2b$12$JMN7bSNLOQw9CvefBs79rOsQYefOhnFfxt1zzKVsiKF1tw7ha5URG")},
	{JID: "test2@s5", Nickname: "test2", PasswordHash: []byte("$2b$12$rFzKEMeiJISlYvU1CMzSg.8ZdUn3vbfKtBRBmjQuJ3vpQV5zOY12u")},
}

// Default returns a Store holding the built-in accounts.
func Default() *Store {
	s, err := NewStore(defaultRecords...)
	if err != nil {
		panic(err)
	}
	return s
}
