package config

const (
	// Dev accounts funded when no genesis accounts are configured.
	DevAccount1 = "0xb6b0a503bbbbff0b1bec39685b52b264"
	DevAccount2 = "0x3d4b1d0b2a9ce68fbf3d04ba4fdd7c04"
	DevAccount3 = "0x6c7311f0f02057565bc1c4133ac3d009"

	DevAccountBalance = 1_000_000_000
)

var DevAccounts = []GenesisAccount{
	{Address: DevAccount1, Balance: DevAccountBalance},
	{Address: DevAccount2, Balance: DevAccountBalance},
	{Address: DevAccount3, Balance: DevAccountBalance},
}
