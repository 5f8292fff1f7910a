package wsman

// XML Namespace URIs for WS-Management protocol.
const (
	// NsSoap is the SOAP 1.2 envelope namespace.
	NsSoap = "http://www.w3.org/2003/05/soap-envelope"

	// NsAddressing is the WS-Addressing namespace.
	NsAddressing = "http://schemas.xmlsoap.org/ws/2004/08/addressing"

	// NsWsman is the DMTF WS-Management namespace.
	NsWsman = "http://schemas.dmtf.org/wbem/wsman/1/wsman.xsd"

	// NsWsmanMicrosoft is the Microsoft WS-Management namespace extension.
	NsWsmanMicrosoft = "http://schemas.microsoft.com/wbem/wsman/1/wsman.xsd"

	// NsShell is the Windows Remote Shell namespace.
	NsShell = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell"
)

// AddressAnonymous is the WS-Addressing anonymous reply address.
const AddressAnonymous = "http://schemas.xmlsoap.org/ws/2004/08/addressing/role/anonymous"

// WS-Transfer actions.
const (
	ActionCreate = "http://schemas.xmlsoap.org/ws/2004/09/transfer/Create"
	ActionDelete = "http://schemas.xmlsoap.org/ws/2004/09/transfer/Delete"
)

// Windows Remote Shell actions.
const (
	ActionCommand = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell/Command"
	ActionReceive = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell/Receive"
	ActionSignal  = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell/Signal"
)

// Signal codes for the Signal action.
const (
	// SignalTerminate terminates a command.
	SignalTerminate = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell/signal/terminate"

	// SignalCtrlC interrupts a running command.
	SignalCtrlC = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell/signal/ctrl_c"
)

// Command states reported in ReceiveResponse.
const (
	CommandStateDone    = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell/CommandState/Done"
	CommandStateRunning = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell/CommandState/Running"
)

// ResourceURIWinRS is the resource URI of the cmd.exe remote shell.
const ResourceURIWinRS = "http://schemas.microsoft.com/wbem/wsman/1/windows/shell/cmd"

// Shell options understood by the WinRS plugin.
const (
	OptionNoProfile        = "WINRS_NOPROFILE"
	OptionCodepage         = "WINRS_CODEPAGE"
	OptionConsoleModeStdin = "WINRS_CONSOLEMODE_STDIN"
	OptionSkipCmdShell     = "WINRS_SKIP_CMD_SHELL"
)
