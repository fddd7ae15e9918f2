package bootstrap

// Launcher script bodies, one per Method, ported from the original
// implementation's generate_{memfd,python,devshm,tempfile,shell}_script
// functions. Each consumes the remainder of stdin as the agent binary
// and execs it in place.

const memfdScript = `set -e
python3 -c "
import os, sys, ctypes
try:
    libc = ctypes.CDLL('libc.so.6')
    fd = libc.syscall(319, b'kestrel-agent', 1)  # memfd_create
    if fd >= 0:
        agent_data = sys.stdin.buffer.read()
        os.write(fd, agent_data)
        os.fexecve(fd, ['/proc/self/fd/%d' % fd], os.environ)
    else:
        raise Exception('memfd_create failed')
except Exception as e:
    print(f'memfd_create failed: {e}', file=sys.stderr)
    sys.exit(1)
"`

const pythonScript = `set -e
python3 -c "
import os, sys, tempfile, stat
try:
    with tempfile.NamedTemporaryFile(delete=False, mode='wb') as f:
        agent_data = sys.stdin.buffer.read()
        f.write(agent_data)
        f.flush()
        os.chmod(f.name, stat.S_IRWXU)
        os.execv(f.name, [f.name])
except Exception as e:
    print(f'Python bootstrap failed: {e}', file=sys.stderr)
    sys.exit(1)
"`

const devShmScript = `set -e
AGENT_PATH="/dev/shm/kestrel-agent-$$-$(date +%s)"
cat > "$AGENT_PATH"
chmod +x "$AGENT_PATH"
exec "$AGENT_PATH"`

const tempFileScript = `set -e
AGENT_PATH="/tmp/kestrel-agent-$$-$(date +%s)"
cat > "$AGENT_PATH"
chmod +x "$AGENT_PATH"
trap 'rm -f "$AGENT_PATH" 2>/dev/null || true' EXIT
exec "$AGENT_PATH"`

const shellScript = `set -e
for dir in /dev/shm /tmp /var/tmp; do
    if [ -d "$dir" ] && [ -w "$dir" ]; then
        AGENT_PATH="$dir/kestrel-agent-$$-$(date +%s)"
        cat > "$AGENT_PATH"
        chmod +x "$AGENT_PATH"
        trap 'rm -f "$AGENT_PATH" 2>/dev/null || true' EXIT
        exec "$AGENT_PATH"
        break
    fi
done
echo "No writable directory found for agent bootstrap" >&2
exit 1`
