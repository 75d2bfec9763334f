package serverconfig_test

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blukai/climbparty/internal/serverconfig"
	"github.com/matryer/is"
)

func TestLoadCreatesDefault(t *testing.T) {
	is := is.New(t)

	dir := filepath.Join(t.TempDir(), "nested", "config")

	config, ok := serverconfig.Load(dir, nil)
	is.True(ok)
	is.Equal(config.Directory, dir)
	is.Equal(len(config.Bans), 0)

	data, err := os.ReadFile(filepath.Join(dir, serverconfig.FileName))
	is.NoErr(err)
	is.Equal(string(data), "{\n  \"bans\": [],\n  \"accessLevels\": []\n}\n")
}

func TestSaveAndLoad(t *testing.T) {
	is := is.New(t)

	dir := t.TempDir()
	config, ok := serverconfig.Load(dir, nil)
	is.True(ok)

	expires := time.Date(2030, time.March, 4, 17, 30, 0, 0, time.UTC)
	config.AddBan(serverconfig.NewSteamIDBan(76561197960287930, "griefing", &expires, "Mallory"))
	config.AddBan(serverconfig.NewIPBan(0x0a000001, "", nil, ""))
	config.AccessLevels = append(config.AccessLevels, 76561197960287931)
	is.True(config.Save())

	data, err := os.ReadFile(filepath.Join(dir, serverconfig.FileName))
	is.NoErr(err)
	is.True(strings.Contains(string(data), `"referenceName": "Mallory"`))
	is.True(strings.Contains(string(data), `"steamId": 76561197960287930`))

	loaded, ok := serverconfig.Load(dir, nil)
	is.True(ok)
	is.Equal(loaded.Directory, dir)
	is.Equal(len(loaded.Bans), 2)
	is.Equal(loaded.Bans[0].Reason, "griefing")
	is.True(loaded.Bans[0].ExpirationDate.Equal(expires))
	is.Equal(loaded.Bans[1].ExpirationDate, nil)
	is.True(loaded.HasAccess(76561197960287931))
	is.True(!loaded.HasAccess(0))
}

func TestLoadMalformed(t *testing.T) {
	is := is.New(t)

	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, serverconfig.FileName), []byte("{bans"), 0o644)
	is.NoErr(err)

	config, ok := serverconfig.Load(dir, nil)
	is.True(!ok)
	is.Equal(config, nil)
}

func TestSaveFailure(t *testing.T) {
	is := is.New(t)

	// a file where the directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	is.NoErr(os.WriteFile(blocker, nil, 0o644))

	config := &serverconfig.Config{Directory: filepath.Join(blocker, "config")}
	is.True(!config.Save())
}

func TestFindAndRemoveBans(t *testing.T) {
	is := is.New(t)

	config, ok := serverconfig.Load(t.TempDir(), nil)
	is.True(ok)

	past := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	config.AddBan(serverconfig.NewSteamIDBan(42, "", nil, ""))
	config.AddBan(serverconfig.NewIPBan(0x7f000001, "", &past, ""))

	is.Equal(config.FindBan(0, 42).Identity.SteamID, uint64(42))
	is.Equal(config.FindBan(0x7f000001, 0).Identity.IP, uint32(0x7f000001))
	is.Equal(config.FindBan(0x7f000002, 0), nil)

	is.Equal(config.RemoveExpired(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)), 1)
	is.Equal(config.FindBan(0x7f000001, 0), nil)

	is.True(config.RemoveBan(serverconfig.Identity{Type: serverconfig.IdentitySteamID, SteamID: 42}))
	is.True(!config.RemoveBan(serverconfig.Identity{Type: serverconfig.IdentitySteamID, SteamID: 42}))
	is.Equal(len(config.Bans), 0)
}

func TestBanText(t *testing.T) {
	is := is.New(t)

	expires := time.Date(2030, time.March, 4, 17, 30, 0, 0, time.UTC)

	ban := serverconfig.NewSteamIDBan(76561197960287930, "griefing", &expires, "Mallory")
	is.Equal(
		ban.ReasonWithExpiration(),
		`You have been banned from this server: "griefing". The ban will expire: Monday, March 4, 2030 5:30 PM UTC.`,
	)
	is.Equal(ban.Identifier(), "SteamID64: 76561197960287930")

	ban = serverconfig.NewIPBan(0x0a000001, "", nil, "")
	is.Equal(ban.ReasonWithExpiration(), `You have been banned from this server: "No reason given".`)
	is.Equal(ban.Identifier(), "IP: 10.0.0.1")
}

func TestBanExpired(t *testing.T) {
	is := is.New(t)

	expires := time.Date(2030, time.March, 4, 17, 30, 0, 0, time.UTC)
	ban := serverconfig.NewIPBan(1, "", &expires, "")

	is.True(!ban.Expired(expires.Add(-time.Second)))
	is.True(ban.Expired(expires))
	is.True(!serverconfig.NewIPBan(1, "", nil, "").Expired(expires))
}

func TestIPConversion(t *testing.T) {
	is := is.New(t)

	ip, ok := serverconfig.IPFromAddr(netip.MustParseAddr("10.0.0.1"))
	is.True(ok)
	is.Equal(ip, uint32(0x0a000001))

	ip, ok = serverconfig.IPFromAddr(netip.MustParseAddr("::ffff:127.0.0.1"))
	is.True(ok)
	is.Equal(serverconfig.AddrFromIP(ip), netip.MustParseAddr("127.0.0.1"))

	_, ok = serverconfig.IPFromAddr(netip.MustParseAddr("::1"))
	is.True(!ok)
}
