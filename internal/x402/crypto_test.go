package x402

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyMessage(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	sig, err := SignMessage(key, "hello agent")
	require.NoError(t, err)
	require.Len(t, sig, 132)

	addr, err := VerifyMessage("hello agent", sig)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	other, err := VerifyMessage("tampered", sig)
	require.NoError(t, err)
	require.NotEqual(t, addr, other)

	_, err = VerifyMessage("hello agent", "0x1234")
	require.Error(t, err)
}

func TestTypedDataSignatureDependsOnChain(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	h := PaymentHeader{
		Version: Version,
		Payer:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Payee:   "0x00000000000000000000000000000000000000bb",
		Amount:  "1000",
		Token:   "0x64544969ed7EBf5f083679233325356EbE738930",
		ChainID: 97,
		Nonce:   nonce,
		Expiry:  1_900_000_000,
	}
	require.NoError(t, Sign(key, &h))
	require.NoError(t, VerifySignature(h))

	moved := h
	moved.ChainID = 56
	require.Error(t, VerifySignature(moved))

	cheaper := h
	cheaper.Amount = "1"
	require.Error(t, VerifySignature(cheaper))
}

func TestAddressFromKeyAndKeccak(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr, err := AddressFromKey("0x" + hexutil.Encode(crypto.FromECDSA(key))[2:])
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), addr)

	require.Equal(t, "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", Keccak256String(""))

	_, err = AddressFromKey("zz")
	require.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		price    string
		decimals int
		want     string
		wantErr  bool
	}{
		{"0.001", 18, "1000000000000000", false},
		{"1", 6, "1000000", false},
		{"12.5", 2, "1250", false},
		{".5", 1, "5", false},
		{"0.0000001", 6, "", true},
		{"abc", 18, "", true},
		{"-1", 18, "", true},
		{"", 18, "", true},
		{"1.2.3", 18, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.price, func(t *testing.T) {
			got, err := ParseAmount(tc.price, tc.decimals)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got.String())
		})
	}
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "0.001", FormatAmount(big.NewInt(1_000_000_000_000_000), 18))
	require.Equal(t, "12.5", FormatAmount(big.NewInt(1250), 2))
	require.Equal(t, "3", FormatAmount(big.NewInt(3_000_000), 6))
	require.Equal(t, "0", FormatAmount(nil, 6))
}
