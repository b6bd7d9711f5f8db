// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Command hsdesc is a reference CLI over the descriptor codec: it
// generates long-term service identity keys, assembles and signs a
// descriptor from a small set of introduction points, decodes and
// validates one, and inspects one that may not even be well-formed.
// Subcommand dispatch, flag handling, and logging style follow a
// familiar flag.FlagSet-per-subcommand idiom.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh/terminal"

	"github.com/jrick/hsdesc3/cert"
	"github.com/jrick/hsdesc3/descriptor"
	"github.com/jrick/hsdesc3/inner"
	"github.com/jrick/hsdesc3/internal/textdoc"
	"github.com/jrick/hsdesc3/introspec"
	"github.com/jrick/hsdesc3/linkspec"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:
  %[1]s keygen [-i id] [-t time] [-m memory (KiB)] [-c comment]
  %[1]s encode [-i id] [-lifetime minutes] [-period minutes] [-rev n] [-intro host:port]... [-out file]
  %[1]s decode [-in file] [-subcred base64]
  %[1]s inspect [-in file]
`, filepath.Base(os.Args[0]))
	os.Exit(2)
}

func init() {
	flag.Usage = usage
}

func main() {
	flag.Parse()
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		fs := new(keygenFlags).parse(os.Args[2:])
		err = keygen(fs)
	case "encode":
		fs := new(encodeFlags).parse(os.Args[2:])
		err = encodeCmd(fs)
	case "decode":
		fs := new(decodeFlags).parse(os.Args[2:])
		err = decodeCmd(fs)
	case "inspect":
		fs := new(inspectFlags).parse(os.Args[2:])
		err = inspectCmd(fs)
	default:
		fmt.Fprintf(os.Stderr, "no command %q\n", os.Args[1])
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

const defaultID = "id"

const (
	defaultTime          = 1
	defaultMemory        = 64 * 1024
	defaultLifetime      = 180  // minutes
	defaultPeriodMinutes = 1440 // one day, matches Tor's time-period-length default
)

type keygenFlags struct {
	identity string
	time     uint
	memory   uint
	force    bool
	comment  string
}

func (f *keygenFlags) parse(args []string) *keygenFlags {
	fs := flag.NewFlagSet("hsdesc keygen", flag.ExitOnError)
	fs.StringVar(&f.identity, "i", defaultID, "identity name")
	fs.UintVar(&f.time, "t", defaultTime, "Argon2id time")
	fs.UintVar(&f.memory, "m", defaultMemory, "Argon2id memory (KiB)")
	fs.BoolVar(&f.force, "f", false, "force Argon2id key derivation despite low parameters")
	fs.StringVar(&f.comment, "c", "", "comment")
	fs.Parse(args)
	return f
}

func promptPassphrase() ([]byte, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer tty.Close()
	if _, err := fmt.Fprint(tty, "Identity key passphrase: "); err != nil {
		return nil, err
	}
	passphrase, err := terminal.ReadPassword(int(tty.Fd()))
	fmt.Fprintln(tty)
	return passphrase, err
}

func appdir() string {
	u, err := user.Current()
	if err != nil {
		log.Printf("appdir: %v", err)
		return ""
	}
	if u.HomeDir == "" {
		log.Printf("appdir: user homedir is unknown")
		return ""
	}
	dir := filepath.Join(u.HomeDir, ".hsdesc")
	if err := unveil(dir, "rwc"); err != nil {
		log.Printf("appdir: unveil: %v", err)
	}
	if err := unveilBlock(); err != nil {
		log.Printf("appdir: unveilBlock: %v", err)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.Fatal(err)
		}
	}
	return dir
}

func keygen(fs *keygenFlags) (err error) {
	id := fs.identity
	dir := appdir()
	pkFilename := filepath.Join(dir, id+".public")
	skFilename := filepath.Join(dir, id+".secret")
	if _, err := os.Stat(pkFilename); !os.IsNotExist(err) {
		return fmt.Errorf("%q keys already exist in %s", id, dir)
	}
	if _, err := os.Stat(skFilename); !os.IsNotExist(err) {
		return fmt.Errorf("%q keys already exist in %s", id, dir)
	}
	defer func() {
		r := recover()
		if r != nil || err != nil {
			os.Remove(pkFilename)
			os.Remove(skFilename)
		}
		if r != nil {
			panic(r)
		}
	}()

	passphrase, err := promptPassphrase()
	if err != nil {
		return err
	}
	if len(passphrase) == 0 {
		return errors.New("empty passphrase")
	}

	pkFile, err := os.OpenFile(pkFilename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer pkFile.Close()
	skFile, err := os.OpenFile(skFilename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer skFile.Close()

	timeParam := uint32(fs.time)
	memory := uint32(fs.memory)
	if memory < defaultMemory {
		log.Printf("warning: recommended Argon2id memory parameter is %d KiB (%d MiB)",
			defaultMemory, defaultMemory/1024)
		if !fs.force {
			return errors.New("choose stronger parameters, use defaults, or force with -f")
		}
	}

	kdfp := kdfParams{Time: timeParam, Memory: memory}
	fp, err := generateIdentity(rand.Reader, pkFile, skFile, passphrase, kdfp, fs.comment)
	if err != nil {
		return err
	}
	log.Printf("create %v", pkFilename)
	log.Printf("create %v", skFilename)
	log.Printf("fingerprint: %s", fp)
	return nil
}

type introFlag []string

func (i *introFlag) String() string { return strings.Join(*i, ",") }
func (i *introFlag) Set(v string) error {
	*i = append(*i, v)
	return nil
}

type encodeFlags struct {
	identity string
	lifetime uint
	period   uint
	revision uint64
	intros   introFlag
	out      string
}

func (f *encodeFlags) parse(args []string) *encodeFlags {
	fs := flag.NewFlagSet("hsdesc encode", flag.ExitOnError)
	fs.StringVar(&f.identity, "i", defaultID, "identity name")
	fs.UintVar(&f.lifetime, "lifetime", defaultLifetime, "descriptor-lifetime (minutes)")
	fs.UintVar(&f.period, "period", defaultPeriodMinutes, "blinding time-period length (minutes)")
	fs.Uint64Var(&f.revision, "rev", 1, "revision-counter")
	fs.Var(&f.intros, "intro", "introduction point host:port (repeatable)")
	fs.StringVar(&f.out, "out", "", "output file")
	fs.Parse(args)
	return f
}

func stdio(outFlag, inFlag string) (io.Writer, io.Reader) {
	out := os.Stdout
	in := os.Stdin
	var err error
	if outFlag != "" && outFlag != "-" {
		out, err = os.Create(outFlag)
		if err != nil {
			log.Fatal(err)
		}
	}
	if inFlag != "" && inFlag != "-" {
		in, err = os.Open(inFlag)
		if err != nil {
			log.Fatal(err)
		}
	}
	return out, in
}

func encodeCmd(fs *encodeFlags) error {
	if len(fs.intros) == 0 {
		return errors.New("at least one -intro host:port is required")
	}

	dir := appdir()
	skFilename := filepath.Join(dir, fs.identity+".secret")
	skFile, err := os.Open(skFilename)
	if err != nil {
		return err
	}
	defer skFile.Close()
	passphrase, err := promptPassphrase()
	if err != nil {
		return err
	}
	identityPriv, _, err := openIdentitySecretKey(skFile, passphrase)
	if err != nil {
		return fmt.Errorf("%s: %w", skFilename, err)
	}

	now := time.Now()
	periodNumber := uint64(now.Unix()/60) / uint64(fs.period)
	blindedPriv, blindedPub, err := cert.DeriveBlindedKey(identityPriv, periodNumber, uint64(fs.period))
	if err != nil {
		return err
	}

	signingPub, signingPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	certExpiry := now.Add(24 * time.Hour)
	signingCert, err := cert.New(blindedPriv, cert.PurposeSigningKey, signingPub, certExpiry)
	if err != nil {
		return err
	}

	ips := make([]*introspec.IntroductionPoint, 0, len(fs.intros))
	for _, hp := range fs.intros {
		ip, err := buildIntroPoint(signingPriv, hp, certExpiry)
		if err != nil {
			return fmt.Errorf("intro point %q: %w", hp, err)
		}
		ips = append(ips, ip)
	}

	d := &descriptor.Descriptor{
		Version:         descriptor.MinVersion,
		LifetimeMinutes: int(fs.lifetime),
		RevisionCounter: fs.revision,
		SigningPub:      signingPub,
		SigningPriv:     signingPriv,
		BlindedPub:      blindedPub,
		BlindedPriv:     blindedPriv,
		SigningKeyCert:  signingCert,
		Inner: &inner.Section{
			CreateHandshakes: []inner.HandshakeID{inner.HandshakeNtorV3},
			IntroPoints:      ips,
		},
	}

	out, err := descriptor.Encode(rand.Reader, d)
	if err != nil {
		return err
	}
	w, _ := stdio(fs.out, "")
	_, err = w.Write(out)
	return err
}

// buildIntroPoint generates a fresh ntor-capable introduction point
// bound at hostport, with ephemeral auth-key and enc-key certified by
// signingPriv, following the per-descriptor (not per-identity) key
// generation real services perform for every introduction point.
func buildIntroPoint(signingPriv ed25519.PrivateKey, hostport string, expiry time.Time) (*introspec.IntroductionPoint, error) {
	host, portStr, err := splitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	var spec linkspec.Spec
	if addr4 := parseIPv4(host); addr4 != nil {
		spec = linkspec.NewIPv4(*addr4, uint16(port))
	} else if addr6 := parseIPv6(host); addr6 != nil {
		spec = linkspec.NewIPv6(*addr6, uint16(port))
	} else {
		return nil, fmt.Errorf("host %q is not a literal IPv4 or IPv6 address", host)
	}

	authPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	authCert, err := cert.New(signingPriv, cert.PurposeAuthKey, authPub, expiry)
	if err != nil {
		return nil, err
	}

	ntorPub, err := generateX25519PublicKey()
	if err != nil {
		return nil, err
	}
	encCert, err := cert.New(signingPriv, cert.PurposeEncKey, ed25519.PublicKey(ntorPub), expiry)
	if err != nil {
		return nil, err
	}

	return &introspec.IntroductionPoint{
		LinkSpecifiers: []linkspec.Spec{spec},
		AuthKeyCert:    authCert,
		EncKeyVariant:  introspec.EncKeyNtor,
		NtorKey:        ntorPub,
		EncKeyCert:     encCert,
	}, nil
}

type decodeFlags struct {
	in      string
	subcred string
}

func (f *decodeFlags) parse(args []string) *decodeFlags {
	fs := flag.NewFlagSet("hsdesc decode", flag.ExitOnError)
	fs.StringVar(&f.in, "in", "", "input file")
	fs.StringVar(&f.subcred, "subcred", "", "client-auth subcredential, base64 (optional)")
	fs.Parse(args)
	return f
}

func decodeCmd(fs *decodeFlags) error {
	_, in := stdio("", fs.in)
	text, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	var subcred []byte
	if fs.subcred != "" {
		subcred, err = base64.StdEncoding.DecodeString(fs.subcred)
		if err != nil {
			return fmt.Errorf("subcred: %w", err)
		}
	}

	d, err := descriptor.Decode(text, subcred, descriptor.RealClock{})
	if err != nil {
		return err
	}
	printDescriptor(d)
	return nil
}

func printDescriptor(d *descriptor.Descriptor) {
	fmt.Printf("version: %d\n", d.Version)
	fmt.Printf("lifetime: %d minutes\n", d.LifetimeMinutes)
	fmt.Printf("revision: %d\n", d.RevisionCounter)
	fmt.Printf("blinded-key: %s\n", cert.Fingerprint(d.BlindedPub))
	fmt.Printf("signing-key: %s\n", cert.Fingerprint(d.SigningPub))
	fmt.Printf("signing-key-cert expires: %s\n", d.SigningKeyCert.Expiration.Format(time.RFC3339))
	fmt.Printf("create2-formats:")
	for _, h := range d.Inner.CreateHandshakes {
		if name, k, ok := inner.DescribeHandshake(h); ok {
			if k != nil {
				fmt.Printf(" %d(%s, kem=%s)", h, name, k.String())
			} else {
				fmt.Printf(" %d(%s)", h, name)
			}
		} else {
			fmt.Printf(" %d", h)
		}
	}
	fmt.Println()
	if len(d.Inner.AuthTypes) > 0 {
		fmt.Printf("authentication-required: %s\n", strings.Join(d.Inner.AuthTypes, " "))
	}
	fmt.Printf("introduction-points: %d\n", len(d.Inner.IntroPoints))
	for i, ip := range d.Inner.IntroPoints {
		fmt.Printf("  [%d] %d link specifier(s), enc-key variant %v\n", i, len(ip.LinkSpecifiers), ip.EncKeyVariant)
	}
}

type inspectFlags struct {
	in string
}

func (f *inspectFlags) parse(args []string) *inspectFlags {
	fs := flag.NewFlagSet("hsdesc inspect", flag.ExitOnError)
	fs.StringVar(&f.in, "in", "", "input file")
	fs.Parse(args)
	return f
}

// inspectCmd prints whatever can be learned about a descriptor even
// when it does not fully validate: the outer plaintext fields are
// tokenized directly, independent of signature or certificate checks,
// and the full decode is attempted separately to report why (if at
// all) it failed.
func inspectCmd(fs *inspectFlags) error {
	_, in := stdio("", fs.in)
	text, err := io.ReadAll(in)
	if err != nil {
		return err
	}

	lines, tokErr := textdoc.Tokenize(text)
	if tokErr != nil {
		fmt.Printf("document does not even tokenize: %v\n", tokErr)
	} else {
		c := textdoc.NewCursor(lines)
		for {
			l, ok := c.Next()
			if !ok {
				break
			}
			fmt.Printf("%s\n", l.Keyword)
		}
	}

	d, err := descriptor.Decode(text, nil, descriptor.RealClock{})
	if err != nil {
		var derr *descriptor.Error
		if errors.As(err, &derr) {
			fmt.Printf("decode failed: kind=%s rule=%q\n", derr.Kind, derr.Rule)
		} else {
			fmt.Printf("decode failed: %v\n", err)
		}
		return nil
	}
	fmt.Println("decode succeeded:")
	printDescriptor(d)
	return nil
}
